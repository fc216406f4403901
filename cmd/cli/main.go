// Command linkgate is a CLI client for the linkgate session API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpcserver "github.com/and161185/linkgate/internal/server/grpc"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if st, ok := status.FromError(err); ok {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.Code(), st.Message())
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		c       conn
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:           "linkgate",
		Short:         "Client for the linkgate session API",
		Version:       version + " (" + buildDate + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.addr, "addr", "localhost:8443", "server address")
	pf.StringVar(&c.caPath, "cacert", "", "CA certificate (PEM)")
	pf.BoolVar(&c.skipTLS, "insecure", false, "skip certificate verification (dev)")
	pf.BoolVar(&c.plaintext, "plaintext", false, "no TLS at all (dev)")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "per-command deadline")

	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	root.AddCommand(
		loginCmd(&c, withTimeout),
		reissueCmd(&c, withTimeout),
		endSessionCmd(&c, withTimeout, "logout", "End the stored session", grpcserver.SessionLogoutFullMethod),
		endSessionCmd(&c, withTimeout, "withdraw", "Delete the account and unlink the provider", grpcserver.SessionWithdrawFullMethod),
		whoamiCmd(),
	)
	return root
}

type timeoutFn func(*cobra.Command) (context.Context, context.CancelFunc)

func loginCmd(c *conn, withTimeout timeoutFn) *cobra.Command {
	var provider, attrsPath, providerAT, providerRT, edgeKey string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Complete a provider login with already fetched user attributes (edge only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readAll(attrsPath)
			if err != nil {
				return err
			}
			var attrs map[string]any
			if err := json.Unmarshal(raw, &attrs); err != nil {
				return fmt.Errorf("attributes: %w", err)
			}
			req, err := structpb.NewStruct(map[string]any{
				"provider":     provider,
				"attributes":   attrs,
				"accessToken":  providerAT,
				"refreshToken": providerRT,
			})
			if err != nil {
				return fmt.Errorf("attributes: %w", err)
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if edgeKey != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, grpcserver.EdgeKeyHeader, edgeKey)
			}
			cc, err := c.dial("")
			if err != nil {
				return err
			}
			defer cc.Close()

			out := new(structpb.Struct)
			if err := cc.Invoke(ctx, grpcserver.SessionLoginFullMethod, req, out); err != nil {
				return err
			}
			if err := saveSession(sessionFrom(out)); err != nil {
				return err
			}
			m := out.AsMap()
			printJSON(cmd.OutOrStdout(), map[string]any{
				"accountId":   m["accountId"],
				"username":    m["username"],
				"redirectUrl": m["redirectUrl"],
			})
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&provider, "provider", "", "provider name (google, naver, kakao, facebook)")
	f.StringVar(&attrsPath, "attributes", "-", "JSON file with provider user attributes, - for stdin")
	f.StringVar(&providerAT, "provider-access-token", "", "provider access token")
	f.StringVar(&providerRT, "provider-refresh-token", "", "provider refresh token")
	f.StringVar(&edgeKey, "edge-key", os.Getenv("LINKGATE_EDGE_SECRET"), "edge secret the server admits logins with")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func reissueCmd(c *conn, withTimeout timeoutFn) *cobra.Command {
	return &cobra.Command{
		Use:   "reissue",
		Short: "Exchange the stored refresh token for a new pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			cc, err := c.dial(s.AccessToken)
			if err != nil {
				return err
			}
			defer cc.Close()

			out := new(structpb.Struct)
			if err := cc.Invoke(ctx, grpcserver.SessionReissueFullMethod, wrapperspb.String(s.RefreshToken), out); err != nil {
				return err
			}
			next := sessionFrom(out)
			if err := saveSession(next); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), map[string]any{"expiresAt": next.ExpiresAt})
			return nil
		},
	}
}

func endSessionCmd(c *conn, withTimeout timeoutFn, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			cc, err := c.dial(s.AccessToken)
			if err != nil {
				return err
			}
			defer cc.Close()

			if err := cc.Invoke(ctx, method, &emptypb.Empty{}, new(emptypb.Empty)); err != nil {
				return err
			}
			return clearSession()
		},
	}
}

// whoamiCmd prints the stored access token's claims. It does not verify the
// signature; the server is the only party holding the key.
func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity carried by the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			claims := jwt.MapClaims{}
			if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
				return errors.New("stored access token is not a JWT")
			}
			printJSON(cmd.OutOrStdout(), map[string]any{
				"sub":      claims["sub"],
				"username": claims["username"],
				"role":     claims["role"],
				"expired":  time.Now().After(s.ExpiresAt),
			})
			return nil
		},
	}
}

func sessionFrom(out *structpb.Struct) session {
	f := out.GetFields()
	exp, _ := time.Parse(time.RFC3339, f["expiresAt"].GetStringValue())
	return session{
		AccessToken:  f["accessToken"].GetStringValue(),
		RefreshToken: f["refreshToken"].GetStringValue(),
		ExpiresAt:    exp,
	}
}
