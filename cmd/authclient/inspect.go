package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthClient/token"
	"github.com/spf13/cobra"
)

type inspection struct {
	Subject   string     `json:"subject"`
	Role      token.Role `json:"role,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	Remaining string     `json:"remaining"`
	Valid     bool       `json:"valid"`
	Renew     bool       `json:"renew_soon"`
}

func inspectCmd() *cobra.Command {
	var (
		window  time.Duration
		asJSON  bool
		fromStd bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [token]",
		Short: "Decode a token's claims without verifying its signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			} else if fromStd {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				raw = string(data)
			}
			raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
			if raw == "" {
				return errors.New("no token given")
			}
			return inspect(cmd.OutOrStdout(), raw, time.Now(), window, asJSON)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 5*time.Minute, "Remaining lifetime below which renewal is due")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&fromStd, "stdin", false, "Read the token from stdin")
	return cmd
}

func inspect(w io.Writer, raw string, now time.Time, window time.Duration, asJSON bool) error {
	claims, ok := token.Decode(raw)
	if !ok {
		return errors.New("token is not decodable: expected a JWT with sub and exp claims")
	}

	out := inspection{
		Subject:   claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.UTC(),
		Remaining: claims.Remaining(now).Round(time.Second).String(),
		Valid:     claims.Valid(now),
		Renew:     token.IsExpiringSoon(raw, now, window),
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "subject:    %s\n", out.Subject)
	if out.Role != token.RoleUnknown {
		fmt.Fprintf(w, "role:       %s\n", out.Role)
	}
	fmt.Fprintf(w, "expires at: %s\n", out.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(w, "remaining:  %s\n", out.Remaining)
	fmt.Fprintf(w, "valid:      %t\n", out.Valid)
	fmt.Fprintf(w, "renew soon: %t\n", out.Renew)
	return nil
}
