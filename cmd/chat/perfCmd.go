package chat

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dChat/cmd/util"
	"github.com/ValentinKolb/dChat/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dChat nodes",
		Long:    "Runs concurrent benchmarks against the primary. Test accounts are created before and removed after the run.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfUserPrefix   = "__perf"
	perfPassword     = "perf-password"
	perfNumThreads   = 10
	perfUsers        = 10
	perfMessageBytes = 128
	perfSkip         = make([]string, 0)

	// perfTimers records the latency of every single operation, one timer per benchmark
	perfTimers = gometrics.NewRegistry()
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. send,login)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "users"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How many test accounts to spread the load over"))
	key = "message-size"
	perfTestCmd.Flags().Int(key, 128, util.WrapString("Size of the message content (in bytes)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfNumThreads = viper.GetInt("threads")
	perfUsers = max(viper.GetInt("users"), 2)
	perfMessageBytes = viper.GetInt("message-size")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfResult is the outcome of one benchmark
type perfResult struct {
	bench  testing.BenchmarkResult
	timer  gometrics.Timer
	failed int64
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dChat nodes")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Users: %d, Message size: %d bytes\n", perfNumThreads, perfUsers, perfMessageBytes)
	fmt.Println()

	users := perfUserNames()
	for _, u := range users {
		if err := rpcChat.CreateAccount(u, perfPassword); err != nil {
			return fmt.Errorf("failed to create test account %s: %w", u, err)
		}
	}
	defer func() {
		for _, u := range users {
			if err := rpcChat.DeleteAccount(u); err != nil {
				log.Printf("error deleting test account %s: %v\n", u, err)
			}
		}
	}()

	content := strings.Repeat("x", perfMessageBytes)
	benchmarks := []struct {
		name string
		op   func(counter int) error
	}{
		{"send", func(i int) error {
			_, err := rpcChat.SendMessage(users[i%perfUsers], users[(i+1)%perfUsers], content)
			return err
		}},
		{"read", func(i int) error {
			_, err := rpcChat.ReadMessages(users[i%perfUsers], 10)
			return err
		}},
		{"view", func(i int) error {
			_, err := rpcChat.ViewConversation(users[i%perfUsers], users[(i+1)%perfUsers])
			return err
		}},
		{"list", func(i int) error {
			_, err := rpcChat.ListAccounts(users[i%perfUsers], perfUserPrefix+"*")
			return err
		}},
		{"login", func(i int) error {
			_, err := rpcChat.Login(users[i%perfUsers], perfPassword)
			return err
		}},
		{"mixed", func(i int) error {
			var err error
			switch i % 3 {
			case 0:
				_, err = rpcChat.SendMessage(users[i%perfUsers], users[(i+1)%perfUsers], content)
			case 1:
				_, err = rpcChat.ReadMessages(users[(i+1)%perfUsers], 1)
			case 2:
				_, err = rpcChat.ViewConversation(users[i%perfUsers], users[(i+1)%perfUsers])
			}
			return err
		}},
	}

	fmt.Println("starting tests...")
	results := make(map[string]perfResult, len(benchmarks))
	for _, b := range benchmarks {
		if slices.Contains(perfSkip, b.name) {
			printResult(b.name, perfResult{})
			continue
		}
		results[b.name] = benchmark(b.name, b.op)
		printResult(b.name, results[b.name])
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmark runs op in parallel and records every call in a go-metrics timer
func benchmark(name string, op func(counter int) error) perfResult {
	timer := gometrics.GetOrRegisterTimer(name, perfTimers)
	failed := gometrics.GetOrRegisterCounter(name+".failed", perfTimers)

	res := testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := op(counter); err != nil {
					failed.Inc(1)
					log.Printf("(%s) - error: %v\n", name, err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})

	return perfResult{bench: res, timer: timer.Snapshot(), failed: failed.Count()}
}

func perfUserNames() []string {
	users := make([]string, perfUsers)
	for i := range users {
		users[i] = fmt.Sprintf("%s-%d", perfUserPrefix, i)
	}
	return users
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.timer == nil || result.bench.NsPerOp() == 0 {
		fmt.Printf("%-10sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1)
	ps := result.timer.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-10s%.0f ops/sec\tp50=%s\tp99=%s\tmax=%s\tfailed=%d\n",
		test,
		1.0/(nsPerOp/1e9),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(result.timer.Max()),
		result.failed,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "P50Ns", "P99Ns", "MaxNs", "Failed",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Threads", "Users", "MessageBytes",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1)
		ps := result.timer.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(result.timer.Max(), 10),
			strconv.FormatInt(result.failed, 10),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfUsers),
			strconv.Itoa(perfMessageBytes),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
