// Command ingestcorpus loads a JSON incident export into a running Kioku
// server through the batch ingest endpoint.
//
// Usage:
//
//	go run ./scripts/ingestcorpus -file corpus.json -url http://localhost:8080
//
// The file is a JSON array of incident records. Records are sent in
// batches; schema-invalid records are quarantined server-side and reported
// here, they never fail the run. Safe to run multiple times — re-ingesting
// an unchanged record is a no-op, a changed record (same id) is updated in
// place.
//
// Exits non-zero only when a batch cannot be delivered (connection refused,
// 5xx). Quarantined records are printed with their reasons and counted in
// the summary, but do not change the exit code: fix the records and re-run.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type ingestReport struct {
	Total       int `json:"total"`
	Ingested    int `json:"ingested"`
	Updated     int `json:"updated"`
	Quarantined int `json:"quarantined"`
	Failures    []struct {
		ID     string `json:"id"`
		Stage  string `json:"stage"`
		Reason string `json:"reason"`
	} `json:"failures"`
}

func main() {
	file := flag.String("file", "", "path to a JSON array of incident records (required)")
	url := flag.String("url", "http://localhost:8080", "base URL of the Kioku server")
	batchSize := flag.Int("batch", 100, "records per ingest request")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "error: -file is required")
		flag.Usage()
		os.Exit(2)
	}
	if *batchSize < 1 {
		fmt.Fprintln(os.Stderr, "error: -batch must be at least 1")
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: read %s: %v\n", *file, err)
		os.Exit(1)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s is not a JSON array of incident records: %v\n", *file, err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stderr, "error: %s contains no records\n", *file)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	endpoint := *url + "/v1/incidents"

	var total ingestReport
	start := time.Now()
	for offset := 0; offset < len(records); offset += *batchSize {
		end := offset + *batchSize
		if end > len(records) {
			end = len(records)
		}

		report, err := sendBatch(client, endpoint, records[offset:end])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: batch %d-%d: %v\n", offset, end-1, err)
			os.Exit(1)
		}

		total.Total += report.Total
		total.Ingested += report.Ingested
		total.Updated += report.Updated
		total.Quarantined += report.Quarantined
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stderr, "quarantined %s (%s): %s\n", f.ID, f.Stage, f.Reason)
		}

		fmt.Printf("batch %d-%d: ingested=%d updated=%d quarantined=%d\n",
			offset, end-1, report.Ingested, report.Updated, report.Quarantined)
	}

	fmt.Printf("done in %s: total=%d ingested=%d updated=%d quarantined=%d\n",
		time.Since(start).Round(time.Millisecond),
		total.Total, total.Ingested, total.Updated, total.Quarantined)
}

func sendBatch(client *http.Client, endpoint string, records []json.RawMessage) (ingestReport, error) {
	body, err := json.Marshal(map[string]any{"incidents": records})
	if err != nil {
		return ingestReport{}, fmt.Errorf("marshal batch: %w", err)
	}

	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return ingestReport{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ingestReport{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ingestReport{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, raw)
	}

	var envelope struct {
		Data ingestReport `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ingestReport{}, fmt.Errorf("decode report: %w", err)
	}
	return envelope.Data, nil
}
