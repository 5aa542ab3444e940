package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/client"
	"github.com/neboloop/pagerelay/internal/protocol"
	"github.com/neboloop/pagerelay/internal/tokenstore"
)

func newClient() (*client.Client, error) {
	c, err := loadClientConfig()
	if err != nil {
		return nil, err
	}
	return client.New(c.BaseURL(), clientTimeout(c)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func PingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a bridge is attached and answering",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := newClient()
			if err != nil {
				return err
			}
			resp := cl.Ping(cmd.Context())
			if !resp.OK {
				return fmt.Errorf("bridge unreachable: %s", resp.StatusText)
			}
			fmt.Println("bridge alive")
			return nil
		},
	}
}

func FetchCmd() *cobra.Command {
	var (
		method      string
		headers     []string
		data        string
		credentials string
		bodyOnly    bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Relay one request through the bridge",
		Long: `Relay one request through the bridge. Relative URLs resolve against the
page the bridge is on. The relay response is printed as JSON.`,
		Example: `  pagerelay fetch /api/profile
  pagerelay fetch -X POST -H 'Content-Type: application/json' -d '{"q":1}' /api/search`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqInit := &protocol.RequestInit{
				Method:      strings.ToUpper(method),
				Body:        data,
				Credentials: protocol.Credentials(credentials),
			}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("header %q: want Name: value", h)
				}
				if reqInit.Headers == nil {
					reqInit.Headers = make(map[string]string)
				}
				reqInit.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}

			cl, err := newClient()
			if err != nil {
				return err
			}
			resp := cl.Fetch(cmd.Context(), args[0], reqInit)
			if bodyOnly {
				fmt.Print(resp.BodyText)
				if !resp.OK {
					return fmt.Errorf("%d %s", resp.Status, resp.StatusText)
				}
				return nil
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&method, "request", "X", "GET", "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header, repeatable")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringVar(&credentials, "credentials", "", "include, same-origin or omit (default include)")
	cmd.Flags().BoolVar(&bodyOnly, "body", false, "print only the response body")
	return cmd
}

func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the orchestrator's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := newClient()
			if err != nil {
				return err
			}
			st, err := cl.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
}

func TokenCmd() *cobra.Command {
	var (
		origin    string
		valueOnly bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the most recently captured token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := newClient()
			if err != nil {
				return err
			}
			tok, err := cl.Latest(cmd.Context(), origin)
			if errors.Is(err, tokenstore.ErrNotFound) {
				return errors.New("no token captured yet")
			}
			if err != nil {
				return err
			}
			if valueOnly {
				fmt.Println(tok.Value)
				return nil
			}
			return printJSON(tok)
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "page origin (default: newest of any origin)")
	cmd.Flags().BoolVar(&valueOnly, "value", false, "print only the token")
	return cmd
}
