// Package client is the uVote platform Go SDK.
//
// It covers both sides of the voting API: the voter flow of exchanging an
// authorization for an anonymous credential, casting a ballot, and checking
// the receipt, and the observer and organiser operations for verifying and
// tallying elections.
//
// # Casting a ballot (voter flow)
//
// A voter holds an authorization ID issued by enrollment. Exchanging it
// yields an anonymous credential; the credential, not the authorization,
// casts the ballot:
//
//	c, _ := client.New("https://vote.example.org")
//
//	cred, err := c.Exchange(ctx, authorizationID)
//	if err != nil {
//	    log.Fatal(err) // client.ErrExchangeRejected carries no detail
//	}
//	result, err := c.Cast(ctx, cred.Value, "candidate-a")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Receipt) // uvr1_3f6c...
//
// The credential value is returned exactly once and should be discarded
// after casting. The receipt handle is safe to keep and share: it proves
// inclusion in the ledger without revealing the ballot or the voter.
//
// # Verifying an election (observer flow)
//
// Ledger endpoints are public, no authentication is required:
//
//	verdict, _ := c.VerifyChain(ctx, electionID)
//	if !verdict.Valid {
//	    fmt.Printf("chain broken at %d: %s\n", verdict.Position, verdict.Reason)
//	}
//
//	trail, _ := c.LedgerTrail(ctx, electionID)
//	fmt.Println(trail.Length, trail.ChainValid)
//
// Observers that poll the trail can add WithCacheTTL to avoid refetching the
// whole chain on every tick:
//
//	c, _ := client.New(baseURL, client.WithCacheTTL(30*time.Second))
//
// # Organiser operations
//
// Results and Reconcile require an organiser session. AdminLogin stores the
// token on the client; a pre-obtained token can be attached with WithToken:
//
//	c, _ := client.New(baseURL)
//	if _, err := c.AdminLogin(ctx, email, password); err != nil {
//	    log.Fatal(err)
//	}
//	tally, _ := c.Results(ctx, electionID)     // closed elections only
//	report, _ := c.Reconcile(ctx, electionID)  // counters vs. chain
package client
