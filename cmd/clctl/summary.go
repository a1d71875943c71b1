package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
)

var errVerifyFailed = errors.New("verification failed")

// summary is the single JSON line printed by hash and verify.
type summary struct {
	Protocol        string `json:"protocol"`
	ProtocolVersion string `json:"protocol_version"`
	Status          string `json:"status"`
	ContractID      string `json:"contract_id"`
	ContentHash     string `json:"content_hash,omitempty"`
	Signatures      int    `json:"signatures,omitempty"`
	Reason          string `json:"reason,omitempty"`
	TimestampUTC    string `json:"timestamp_utc"`
}

func (s summary) print(cmd *cobra.Command) error {
	s.Protocol, s.ProtocolVersion = "contractseal", "v1"
	s.TimestampUTC = time.Now().UTC().Format(time.RFC3339)
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(b)); err != nil {
		return err
	}
	if s.Status == statusPass {
		color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "✓ %s %s\n", s.ContractID, s.Status)
	} else {
		color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "✗ %s %s: %s\n", s.ContractID, s.Status, s.Reason)
	}
	return nil
}

func info(cmd *cobra.Command, format string, args ...any) {
	color.New(color.FgCyan).Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

func warn(cmd *cobra.Command, format string, args ...any) {
	color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "warning: "+format+"\n", args...)
}

// quietLogger keeps resolver debug output off the terminal.
func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
