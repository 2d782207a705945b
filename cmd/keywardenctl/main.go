// keywardenctl es el CLI de operación: habla con los endpoints admin
// del servicio por HTTP.
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

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Admin-API-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	cli := &client{HTTP: &http.Client{Timeout: 15 * time.Second}}

	root := &cobra.Command{
		Use:   "keywardenctl",
		Short: "CLI de operación de keywarden",
	}
	root.PersistentFlags().StringVar(&cli.BaseURL, "url", envOr("KEYWARDEN_URL", "http://localhost:8080"), "base URL del servicio")
	root.PersistentFlags().StringVar(&cli.APIKey, "api-key", os.Getenv("KEYWARDEN_ADMIN_API_KEY"), "admin API key")
	root.PersistentFlags().StringVarP(&cli.OutFormat, "output", "o", "json", "formato de salida (json|text)")

	keysCmd := &cobra.Command{Use: "keys", Short: "Operaciones sobre claves de firma"}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lista todas las claves con sus estados",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cli.do(http.MethodGet, "/v1/admin/keys", nil)
			if err != nil {
				return err
			}
			cli.print(status, body)
			return exitOnHTTPError(status)
		},
	})

	keysCmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Fuerza el retiro de la clave ACTIVE y asegura un reemplazo PENDING",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cli.do(http.MethodPost, "/v1/admin/keys/rotate", nil)
			if err != nil {
				return err
			}
			cli.print(status, body)
			return exitOnHTTPError(status)
		},
	})

	var auditKeyID string
	var auditLimit int
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Muestra el audit log del ciclo de vida",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/admin/keys/audit?limit=%d", auditLimit)
			if auditKeyID != "" {
				path += "&key_id=" + auditKeyID
			}
			status, body, err := cli.do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			cli.print(status, body)
			return exitOnHTTPError(status)
		},
	}
	auditCmd.Flags().StringVar(&auditKeyID, "key-id", "", "filtrar por key id")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "máximo de entries")
	keysCmd.AddCommand(auditCmd)

	jwksCmd := &cobra.Command{
		Use:   "jwks",
		Short: "Muestra el verification key set publicado",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cli.do(http.MethodGet, "/.well-known/jwks.json", nil)
			if err != nil {
				return err
			}
			cli.print(status, body)
			return exitOnHTTPError(status)
		},
	}

	root.AddCommand(keysCmd, jwksCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func exitOnHTTPError(status int) error {
	if status >= 400 {
		return fmt.Errorf("http %d", status)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
