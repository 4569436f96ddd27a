// Benchmark tool for load-testing Kestrel with synthetic AP batches.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -batches 100 -rows 200
//
// This tool:
//  1. Seeds the approval matrix, user approvals, and rule weights
//  2. Generates synthetic AP batches with injected duplicate invoices
//  3. Sends each batch to POST /batches/evaluate
//  4. Reports latency, throughput, and scoring statistics
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LineItem mirrors the Kestrel API line shape.
type LineItem struct {
	AccountDocID  string          `json:"accountDocId"`
	LineID        string          `json:"lineId"`
	Amount        float64         `json:"amount"`
	InvoiceNumber string          `json:"invoiceNumber"`
	InvoiceDate   time.Time       `json:"invoiceDate"`
	DueDate       time.Time       `json:"dueDate"`
	CreditPeriod  int             `json:"creditPeriod"`
	SupplierID    string          `json:"supplierId"`
	SupplierName  string          `json:"supplierName"`
	PostedDate    time.Time       `json:"postedDate"`
	EnteredDate   time.Time       `json:"enteredDate"`
	Approvers     [5]UserRef      `json:"approvers"`
	RuleFlags     map[string]bool `json:"ruleFlags,omitempty"`
	RiskScore     float64         `json:"riskScore"`
}

// UserRef mirrors the nullable approver reference.
type UserRef struct {
	ID    int64 `json:"id"`
	Valid bool  `json:"valid"`
}

// EvaluateRequest is the Kestrel API request format.
type EvaluateRequest struct {
	BatchID     string     `json:"batchId"`
	RuleColumns []string   `json:"ruleColumns,omitempty"`
	Lines       []LineItem `json:"lines"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	ResultID  string  `json:"resultId"`
	Status    string  `json:"status"`
	Rows      int     `json:"rows"`
	Documents int     `json:"documents"`
	Alerts    int     `json:"alerts"`
	MaxRisk   float64 `json:"maxRisk"`
	Metadata  struct {
		TotalMs       int64 `json:"totalMs"`
		BlocksDropped int   `json:"blocksDropped"`
	} `json:"metadata"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalBatches   int64
	TotalRows      int64
	TotalDocuments int64
	TotalAlerts    int64
	TotalErrors    int64

	ClientTimeMs  int64 // wall time across requests
	ServerTimeMs  int64 // pipeline time reported by Kestrel
	BlocksDropped int64
}

var suppliers = []string{
	"ACME INDUSTRIAL SUPPLY",
	"NORTHWIND TRADERS",
	"CONSOLIDATED FREIGHT",
	"GLOBEX MANUFACTURING",
	"INITECH SERVICES",
	"VANDELAY IMPORTS",
	"STARK FABRICATION",
	"WAYSTAR LOGISTICS",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	batches := flag.Int("batches", 100, "Number of batches to send")
	rows := flag.Int("rows", 200, "Lines per batch")
	dupRate := flag.Float64("dup-rate", 0.05, "Fraction of lines duplicated with a variant invoice number")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	seed := flag.Int64("seed", 1, "Random seed")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Synthetic AP Batches             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Batches:     %d x %d rows\n", *batches, *rows)
	fmt.Printf("Dup Rate:    %.2f\n", *dupRate)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	client := &http.Client{Timeout: 60 * time.Second}
	if err := seedReferenceTables(client, *baseURL, *tenantID); err != nil {
		fmt.Printf("ERROR: Failed to seed reference tables: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Reference tables seeded")

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(*baseURL, *tenantID, *batches, *rows, *dupRate, *workers, *seed, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// seedReferenceTables installs an approval matrix, user approvals, and
// rule weights so batches score against realistic reference data.
func seedReferenceTables(client *http.Client, baseURL, tenantID string) error {
	matrix := map[string]any{
		"entries": []map[string]any{
			{"id": 1, "min": "0", "max": "10000", "levels": []bool{true, false, false, false, false}},
			{"id": 2, "min": "10000", "max": "100000", "levels": []bool{true, true, false, false, false}},
			{"id": 3, "min": "100000", "max": "10000000", "levels": []bool{true, true, true, false, false}},
		},
	}
	if err := postJSON(client, baseURL+"/approval-matrix", tenantID, matrix); err != nil {
		return fmt.Errorf("approval matrix: %w", err)
	}

	users := map[string]any{
		"entries": []map[string]any{
			{"userId": 101, "level": 1, "min": "0", "max": "50000"},
			{"userId": 102, "level": 2, "min": "0", "max": "500000"},
			{"userId": 103, "level": 3, "min": "0", "max": "10000000"},
		},
	}
	if err := postJSON(client, baseURL+"/user-approvals", tenantID, users); err != nil {
		return fmt.Errorf("user approvals: %w", err)
	}

	weights := map[string]any{
		"weights": []map[string]any{
			{"rule": "LATE_PAYMENT", "weight": 1},
			{"rule": "UNFAVORABLE_PAYMENT_TERMS", "weight": 1},
			{"rule": "IMMEDIATE_PAYMENTS", "weight": 2},
			{"rule": "NON_PO_INVOICE", "weight": 2},
		},
	}
	req, err := http.NewRequest(http.MethodPut, baseURL+"/rule-weights", marshalBody(weights))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rule weights: status %d", resp.StatusCode)
	}
	return nil
}

func postJSON(client *http.Client, url, tenantID string, body any) error {
	req, err := http.NewRequest(http.MethodPost, url, marshalBody(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func marshalBody(body any) *bytes.Reader {
	data, _ := json.Marshal(body)
	return bytes.NewReader(data)
}

// generateBatch builds one synthetic AP batch. A dupRate fraction of
// lines is re-emitted under a new document with an invoice-number
// variant, the way double-entered invoices appear in real feeds.
func generateBatch(rng *rand.Rand, batchNum, rows int, dupRate float64) EvaluateRequest {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lines := make([]LineItem, 0, rows)

	for i := 0; len(lines) < rows; i++ {
		supplier := suppliers[rng.Intn(len(suppliers))]
		invoiceDate := base.AddDate(0, 0, rng.Intn(180))
		credit := 15 + rng.Intn(60)
		amount := 100 + rng.Float64()*50000

		line := LineItem{
			AccountDocID:  fmt.Sprintf("DOC-%d-%d", batchNum, i),
			LineID:        "L1",
			Amount:        float64(int(amount*100)) / 100,
			InvoiceNumber: fmt.Sprintf("INV-%d%04d", batchNum, i),
			InvoiceDate:   invoiceDate,
			DueDate:       invoiceDate.AddDate(0, 0, credit),
			CreditPeriod:  credit,
			SupplierID:    fmt.Sprintf("SUP-%d", rng.Intn(len(suppliers))),
			SupplierName:  supplier,
			PostedDate:    invoiceDate.AddDate(0, 0, rng.Intn(10)),
			EnteredDate:   invoiceDate.AddDate(0, 0, rng.Intn(12)),
			Approvers:     [5]UserRef{{ID: 101, Valid: true}, {ID: 102, Valid: true}, {ID: 103, Valid: true}},
			RuleFlags: map[string]bool{
				"NON_PO_INVOICE":     rng.Float64() < 0.1,
				"IMMEDIATE_PAYMENTS": rng.Float64() < 0.05,
			},
			RiskScore: rng.Float64(),
		}
		lines = append(lines, line)

		// Inject a duplicate variant of this line under another document.
		if len(lines) < rows && rng.Float64() < dupRate {
			dup := line
			dup.AccountDocID = fmt.Sprintf("DOC-%d-%d-D", batchNum, i)
			dup.InvoiceNumber = line.InvoiceNumber + "A"
			lines = append(lines, dup)
		}
	}

	return EvaluateRequest{
		BatchID:     fmt.Sprintf("bench-%d", batchNum),
		RuleColumns: []string{"NON_PO_INVOICE", "IMMEDIATE_PAYMENTS"},
		Lines:       lines,
	}
}

func runBenchmark(baseURL, tenantID string, batches, rows int, dupRate float64, numWorkers int, seed int64, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan int, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}
			rng := rand.New(rand.NewSource(seed + int64(workerNum)))

			for batchNum := range work {
				req := generateBatch(rng, batchNum, rows, dupRate)

				start := time.Now()
				result, err := evaluateBatch(client, baseURL, tenantID, req)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ClientTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalBatches, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", req.BatchID, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalRows, int64(result.Rows))
				atomic.AddInt64(&metrics.TotalDocuments, int64(result.Documents))
				atomic.AddInt64(&metrics.TotalAlerts, int64(result.Alerts))
				atomic.AddInt64(&metrics.ServerTimeMs, result.Metadata.TotalMs)
				atomic.AddInt64(&metrics.BlocksDropped, int64(result.Metadata.BlocksDropped))

				if verbose {
					fmt.Printf("✓ %-12s | %5d rows | %5d docs | %3d alerts | max %.2f | %4d ms\n",
						req.BatchID, result.Rows, result.Documents, result.Alerts, result.MaxRisk, elapsed)
				}
			}
		}(i)
	}

	for b := 0; b < batches; b++ {
		work <- b
	}
	close(work)
	wg.Wait()

	return metrics
}

func evaluateBatch(client *http.Client, baseURL, tenantID string, reqBody EvaluateRequest) (*EvaluateResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/batches/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 SCORING STATISTICS\n")
	fmt.Printf("   Batches Scored:   %d\n", m.TotalBatches-m.TotalErrors)
	fmt.Printf("   Rows Scored:      %d\n", m.TotalRows)
	fmt.Printf("   Documents:        %d\n", m.TotalDocuments)
	fmt.Printf("   Alerts:           %d\n", m.TotalAlerts)
	fmt.Printf("   Blocks Dropped:   %d\n", m.BlocksDropped)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	scored := m.TotalBatches - m.TotalErrors
	if scored > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms/batch (client)\n", float64(m.ClientTimeMs)/float64(scored))
		fmt.Printf("   Avg Pipeline:     %.2f ms/batch (server)\n", float64(m.ServerTimeMs)/float64(scored))
	}
	if duration.Seconds() > 0 {
		fmt.Printf("   Throughput:       %.2f rows/sec\n", float64(m.TotalRows)/duration.Seconds())
	}

	if m.TotalErrors > 0 {
		fmt.Printf("\n⚠️  %d batches failed - check server logs\n", m.TotalErrors)
	}
	fmt.Println()
}
