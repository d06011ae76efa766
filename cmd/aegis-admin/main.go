// Command aegis-admin is an operator CLI for a running aegisd node: it
// talks to the node's /v1/admin endpoints over HTTP(S) at AEGIS_NODE_URL
// (default https://localhost:8443), the way
// cmd/ocx-cli talked to the gateway's /api/v1 endpoints. Structure
// (flag-parsing-by-hand over os.Args, doRequest helper, env-var defaults)
// is grounded on that file; the command set and request/response shapes
// are new.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	node := os.Getenv("AEGIS_NODE_URL")
	if node == "" {
		node = "https://localhost:8443"
	}

	switch os.Args[1] {
	case "block":
		cmdBlock(node)
	case "unblock":
		cmdUnblock(node)
	case "evidence":
		cmdEvidence(node)
	case "verify":
		cmdVerify(node)
	case "health":
		cmdHealth(node)
	case "version":
		fmt.Printf("aegis-admin v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`AEGIS Admin CLI v` + version + `

Usage: aegis-admin <command> [flags]

Commands:
  block      Manually block a client prefix
  unblock    Remove a manual or expired block
  evidence   Query the local audit vault
  verify     Validate the audit vault's hash chain and Merkle root
  health     Print node health (drop oracle + origin breaker state)
  version    Print version
  help       Show this help

Environment:
  AEGIS_NODE_URL   Node admin URL (default: https://localhost:8443)

Examples:
  aegis-admin block --prefix 203.0.113.0/24 --duration 1h
  aegis-admin unblock --prefix 203.0.113.0/24
  aegis-admin evidence --type waf_match --limit 20
  aegis-admin verify`)
}

// ----------------------------------------------------------------
// block / unblock
// ----------------------------------------------------------------

func cmdBlock(node string) {
	var prefix, duration string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--prefix":
			i++
			if i < len(args) {
				prefix = args[i]
			}
		case "--duration":
			i++
			if i < len(args) {
				duration = args[i]
			}
		}
	}
	if prefix == "" {
		fmt.Fprintln(os.Stderr, "Error: --prefix is required")
		os.Exit(1)
	}
	durationSec := 3600
	if duration != "" {
		d, err := time.ParseDuration(duration)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --duration: %v\n", err)
			os.Exit(1)
		}
		durationSec = int(d.Seconds())
	}

	body, _ := json.Marshal(map[string]any{"prefix": prefix, "duration_sec": durationSec})
	if _, err := doRequest("POST", node+"/v1/admin/oracle/block", body); err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("blocked %s for %s\n", prefix, duration)
}

func cmdUnblock(node string) {
	if len(os.Args) < 4 || os.Args[2] != "--prefix" {
		fmt.Fprintln(os.Stderr, "Usage: aegis-admin unblock --prefix <cidr|ip>")
		os.Exit(1)
	}
	prefix := os.Args[3]
	body, _ := json.Marshal(map[string]any{"prefix": prefix})
	if _, err := doRequest("POST", node+"/v1/admin/oracle/unblock", body); err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("unblocked %s\n", prefix)
}

// ----------------------------------------------------------------
// evidence
// ----------------------------------------------------------------

func cmdEvidence(node string) {
	var recordType, clientIP, requestID, limit string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--type":
			i++
			if i < len(args) {
				recordType = args[i]
			}
		case "--client-ip":
			i++
			if i < len(args) {
				clientIP = args[i]
			}
		case "--request-id":
			i++
			if i < len(args) {
				requestID = args[i]
			}
		case "--limit":
			i++
			if i < len(args) {
				limit = args[i]
			}
		}
	}

	url := node + "/v1/admin/evidence?type=" + recordType + "&client_ip=" + clientIP +
		"&request_id=" + requestID + "&limit=" + limit
	resp, err := doRequest("GET", url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}

	var records []map[string]any
	if err := json.Unmarshal(resp, &records); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No matching records.")
		return
	}

	fmt.Printf("%-12s %-20s %-16s %-10s %s\n", "TYPE", "REQUEST", "CLIENT IP", "VERDICT", "TIMESTAMP")
	fmt.Println(strings.Repeat("-", 90))
	for _, rec := range records {
		fmt.Printf("%-12v %-20v %-16v %-10v %v\n",
			rec["type"], rec["request_id"], rec["client_ip"], rec["verdict"], rec["timestamp"])
	}
}

func cmdVerify(node string) {
	resp, err := doRequest("GET", node+"/v1/admin/evidence/verify", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	var result map[string]any
	json.Unmarshal(resp, &result)

	if intact, _ := result["chain_intact"].(bool); intact {
		fmt.Printf("chain intact | merkle_root=%v\n", result["merkle_root"])
	} else {
		fmt.Printf("chain BROKEN at record %v | merkle_root=%v\n", result["broken_at"], result["merkle_root"])
		os.Exit(1)
	}
}

// ----------------------------------------------------------------
// health
// ----------------------------------------------------------------

func cmdHealth(node string) {
	resp, err := doRequest("GET", node+"/healthz", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	var result map[string]any
	json.Unmarshal(resp, &result)
	fmt.Printf("status:         %v\n", result["status"])
	fmt.Printf("origin breaker: %v\n", result["origin_breaker"])
	if stats, ok := result["drop_oracle"].(map[string]any); ok {
		fmt.Printf("drop oracle:    %v\n", stats)
	}
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func doRequest(method, url string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("node returned %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
