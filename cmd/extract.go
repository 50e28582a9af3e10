package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/candidate-intake/internal/classify"
	"github.com/sells-group/candidate-intake/internal/extract"
	"github.com/sells-group/candidate-intake/internal/ingest"
	"github.com/sells-group/candidate-intake/internal/mailbox"
	"github.com/sells-group/candidate-intake/internal/model"
)

var (
	extractSubject string
	extractFrom    string
	extractDate    string
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print what the filter, classifier and extractor make of one email",
	Long:  "Reads an .eml file (or a raw body from any other file, '-' for stdin) and prints the candidate decision, media label and extracted fields as JSON. Nothing is written to the store.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		rules, err := classify.LoadRules(cfg.Rules.File)
		if err != nil {
			return err
		}
		msg, err := readMessage(args[0])
		if err != nil {
			return err
		}
		if extractSubject != "" {
			msg.Subject = extractSubject
		}
		if extractFrom != "" {
			msg.From = extractFrom
		}
		if extractDate != "" {
			d, ok := ingest.ParseDate(extractDate)
			if !ok {
				return eris.Errorf("unrecognized date %q", extractDate)
			}
			msg.Date = d
		}
		return writeExtraction(cmd.OutOrStdout(), rules, *msg)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractSubject, "subject", "", "override the message subject")
	extractCmd.Flags().StringVar(&extractFrom, "from", "", "override the sender address")
	extractCmd.Flags().StringVar(&extractDate, "date", "", "override the message date (RFC 5322, RFC 3339 or 2006-01-02 15:04:05 JST)")
	rootCmd.AddCommand(extractCmd)
}

type extraction struct {
	IsCandidate bool            `json:"is_candidate"`
	Media       model.Media     `json:"media"`
	Missing     []string        `json:"missing,omitempty"`
	Fields      model.Candidate `json:"fields"`
}

func readMessage(path string) (*model.Message, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".eml") {
		return mailbox.Parse(bytes.NewReader(data))
	}
	return &model.Message{Body: string(data)}, nil
}

func writeExtraction(out io.Writer, rules classify.Rules, msg model.Message) error {
	res := extraction{
		IsCandidate: rules.IsCandidate(msg.Subject, msg.Body, msg.From),
		Media:       rules.Media(msg.From, msg.Body),
		Fields:      extract.New(rules.ExcludedDomains()).Extract(msg.Body),
	}
	if !msg.Date.IsZero() {
		res.Fields[model.FieldInflowDate] = msg.Date.UTC()
	}
	res.Missing = res.Fields.Missing()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return eris.Wrap(enc.Encode(res), "encode extraction")
}
