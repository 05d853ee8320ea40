//go:build ignore

// sweep-ledgers.go verifies the public ballot chains of a running uVote
// server from the outside, the way an independent observer would: no
// credentials, only the public ledger endpoints.
//
// Run with: go run scripts/sweep-ledgers.go
//
//	UVOTE_SERVER=https://vote.example.org go run scripts/sweep-ledgers.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Election IDs are sequential, so a bounded scan finds every election the
// server has. Raise maxElectionID for long-lived deployments.
const maxElectionID = 50

type result struct {
	electionID int64
	found      bool
	valid      bool
	length     int64
	position   int64
	reason     string
	err        string
	latency    time.Duration
}

func sweep(server string, id int64, client *http.Client) result {
	start := time.Now()

	verifyURL := fmt.Sprintf("%s/api/v1/elections/%d/ledger/verify", server, id)
	resp, err := client.Get(verifyURL)
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{electionID: id, err: msg, latency: latency}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return result{electionID: id, latency: latency}
	}
	if resp.StatusCode != http.StatusOK {
		return result{electionID: id, err: fmt.Sprintf("HTTP %d", resp.StatusCode), latency: latency}
	}

	var verdict struct {
		Valid    bool   `json:"valid"`
		Position int64  `json:"position"`
		Reason   string `json:"reason"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(body, &verdict); err != nil {
		return result{electionID: id, err: "bad verify response", latency: latency}
	}

	r := result{
		electionID: id,
		found:      true,
		valid:      verdict.Valid,
		position:   verdict.Position,
		reason:     verdict.Reason,
		latency:    latency,
	}

	// Chain length comes from the trail endpoint.
	trailURL := fmt.Sprintf("%s/api/v1/elections/%d/ledger", server, id)
	if trailResp, err := client.Get(trailURL); err == nil {
		defer trailResp.Body.Close()
		var trail struct {
			Length int64 `json:"length"`
		}
		trailBody, _ := io.ReadAll(io.LimitReader(trailResp.Body, 1<<22))
		if json.Unmarshal(trailBody, &trail) == nil {
			r.length = trail.Length
		}
	}
	return r
}

func main() {
	server := os.Getenv("UVOTE_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	maxID := int64(maxElectionID)
	if v := os.Getenv("UVOTE_MAX_ELECTION"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxID = n
		}
	}

	httpClient := &http.Client{Timeout: 8 * time.Second}

	jobs := make(chan int64, maxID)
	results := make(chan result, maxID)

	// Worker pool, 8 concurrent sweeps
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- sweep(server, id, httpClient)
			}
		}()
	}

	for id := int64(1); id <= maxID; id++ {
		jobs <- id
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect
	var elections []result
	var failures []result
	checked := int64(0)
	for r := range results {
		checked++
		fmt.Printf("\r  sweeping... %d/%d", checked, maxID)

		if r.found {
			elections = append(elections, r)
		} else if r.err != "" {
			failures = append(failures, r)
		}
	}
	fmt.Printf("\r  done, %d election ids swept\n\n", maxID)

	sort.Slice(elections, func(i, j int) bool {
		return elections[i].electionID < elections[j].electionID
	})

	// ── Report ────────────────────────────────────────────────────────────────
	fmt.Printf("══════════════════════════════════════════════════════\n")
	fmt.Printf("  uVote Ledger Sweep (%s)\n", server)
	fmt.Printf("  Elections found: %d\n", len(elections))
	fmt.Printf("══════════════════════════════════════════════════════\n\n")

	if len(elections) == 0 {
		fmt.Println("  No elections found in the scanned id range.")
		return
	}

	broken := 0
	for _, r := range elections {
		if r.valid {
			fmt.Printf("  ✓ election %-4d  %5d entries  (%dms)\n",
				r.electionID, r.length, r.latency.Milliseconds())
		} else {
			broken++
			fmt.Printf("  ✗ election %-4d  BROKEN at position %d: %s  (%dms)\n",
				r.electionID, r.position, r.reason, r.latency.Milliseconds())
		}
	}

	if len(failures) > 0 {
		fmt.Println("\n── Sweep errors ──")
		for _, r := range failures {
			fmt.Printf("  • election %d: %s\n", r.electionID, r.err)
		}
	}

	fmt.Println()
	if broken > 0 {
		fmt.Printf("  %d chain(s) FAILED verification; investigate before trusting results.\n", broken)
		os.Exit(1)
	}
	fmt.Println("  All chains verified.")
}
