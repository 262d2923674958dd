package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/complaint-engine/service"
	"github.com/songzhibin97/complaint-engine/types"
)

var (
	inputFile     string
	channel       string
	customerID    string
	customerEmail string
	customerName  string
	parallelism   int
)

var processCmd = &cobra.Command{
	Use:   "process [complaint text]",
	Short: "Process complaints and print the results as JSON",
	Long: `Processes a single complaint given as arguments, or a JSON array of
{"raw_text", "channel", "customer_id", "customer_email", "customer_name"}
objects read from --file ("-" for stdin). Results are written to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := readRequests(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if parallelism <= 0 {
			parallelism = cfg.Workflow.BatchParallelism
		}
		subs, err := a.resolver.ProcessBatch(cmd.Context(), reqs, parallelism)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if len(subs) == 1 {
			return enc.Encode(subs[0])
		}
		return enc.Encode(subs)
	},
}

func init() {
	processCmd.Flags().StringVarP(&inputFile, "file", "f", "", "JSON file of complaints, - for stdin")
	processCmd.Flags().StringVar(&channel, "channel", string(types.ChannelEmail), "Channel of the complaint given as arguments")
	processCmd.Flags().StringVar(&customerID, "customer-id", "", "Customer id")
	processCmd.Flags().StringVar(&customerEmail, "customer-email", "", "Customer email")
	processCmd.Flags().StringVar(&customerName, "customer-name", "", "Customer name")
	processCmd.Flags().IntVarP(&parallelism, "parallel", "p", 0, "Concurrent runs (default from config)")
}

func readRequests(stdin io.Reader, args []string) ([]service.SubmitRequest, error) {
	if inputFile == "" {
		if len(args) == 0 {
			return nil, errors.New("give the complaint text as arguments or use --file")
		}
		return []service.SubmitRequest{{
			RawText:       strings.Join(args, " "),
			Channel:       types.Channel(channel),
			CustomerID:    customerID,
			CustomerEmail: customerEmail,
			CustomerName:  customerName,
		}}, nil
	}

	var r io.Reader = stdin
	if inputFile != "-" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var reqs []service.SubmitRequest
	if err := json.NewDecoder(r).Decode(&reqs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", inputFile, err)
	}
	if len(reqs) == 0 {
		return nil, errors.New("no complaints to process")
	}
	return reqs, nil
}
