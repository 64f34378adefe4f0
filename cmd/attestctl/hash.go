package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"attestd/internal/infra/crypto"
)

// runHash prints the canonical content hash of a JSON document, matching
// what the service records at signing time.
func runHash(args []string) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	in := fs.String("in", "", "input JSON file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *in == "" {
		fmt.Fprintln(os.Stderr, "hash requires --in <content.json>")
		return 1
	}

	payload, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read content: %v\n", err)
		return 1
	}
	var content any
	if err := json.Unmarshal(payload, &content); err != nil {
		fmt.Fprintf(os.Stderr, "decode content: %v\n", err)
		return 1
	}

	hash, err := crypto.ComputeContentHash(content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash content: %v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}
