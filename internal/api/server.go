package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/ipvwatch/internal/badge"
	"github.com/dgnsrekt/ipvwatch/internal/config"
	"github.com/dgnsrekt/ipvwatch/internal/relay"
	"github.com/dgnsrekt/ipvwatch/internal/tracker"
	"github.com/dgnsrekt/ipvwatch/internal/types"
)

// Service is the tracker as seen by the API.
type Service interface {
	relay.Port
	Sessions() []tracker.SessionInfo
	Session(tab string) (tracker.SessionInfo, []types.Tuple, error)
}

// Badges returns the last rendered badge of a tab.
type Badges interface {
	Get(tab string) (badge.Badge, bool)
}

// Options reads and writes the user options.
type Options interface {
	Current() config.Options
	Update(opts config.Options) error
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Browser tab (target) id"`
}

type tabListOutput struct {
	Body struct {
		Tabs []tracker.SessionInfo `json:"tabs"`
	}
}

type tabDetail struct {
	tracker.SessionInfo
	Domains []types.Tuple `json:"domains"`
	Badge   *badge.Badge  `json:"badge,omitempty"`
}

type tabOutput struct {
	Body tabDetail
}

type optionsBody struct {
	RegularColorScheme   string `json:"regular_color_scheme" enum:"darkfg,lightfg"`
	IncognitoColorScheme string `json:"incognito_color_scheme" enum:"darkfg,lightfg"`
	NAT64Prefix          string `json:"nat64_prefix" doc:"IPv6 prefix whose addresses count as NAT64 translated IPv4"`
	AddressPolicy        string `json:"address_policy" enum:"live-first,last-wins,ranked"`
}

type optionsOutput struct {
	Body optionsBody
}

type optionsInput struct {
	Body optionsBody
}

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
		Tabs   int    `json:"tabs"`
	}
}

func NewServer(svc Service, badges Badges, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(logRequests(slog.Default))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("ipvwatch API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(streamDocsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	tabOf := func(r *http.Request) string { return chi.URLParam(r, "tab_id") }
	router.Get("/api/v1/tabs/{tab_id}/events", relay.SSEHandler(svc, tabOf))
	router.Get("/api/v1/tabs/{tab_id}/ws", relay.WSHandler(svc, tabOf))

	registerTabHandlers(api, svc, badges)
	if opts != nil {
		registerOptionsHandlers(api, opts)
	}

	return router
}

func registerTabHandlers(api huma.API, svc Service, badges Badges) {
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Tabs = len(svc.Sessions())
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List tracked tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabListOutput, error) {
			out := &tabListOutput{}
			out.Body.Tabs = svc.Sessions()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}", Summary: "Get a tab's domains and badge", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			info, tuples, err := svc.Session(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body.SessionInfo = info
			out.Body.Domains = tuples
			if badges != nil {
				if b, ok := badges.Get(input.TabID); ok {
					out.Body.Badge = &b
				}
			}
			return out, nil
		})
}

func registerOptionsHandlers(api huma.API, opts Options) {
	huma.Register(api, huma.Operation{OperationID: "get-options", Method: http.MethodGet, Path: "/api/v1/options", Summary: "Get user options", Tags: []string{"Options"}},
		func(ctx context.Context, input *struct{}) (*optionsOutput, error) {
			return &optionsOutput{Body: toBody(opts.Current())}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "put-options", Method: http.MethodPut, Path: "/api/v1/options", Summary: "Replace user options", Tags: []string{"Options"}},
		func(ctx context.Context, input *optionsInput) (*optionsOutput, error) {
			next := config.Options{
				RegularColorScheme:   input.Body.RegularColorScheme,
				IncognitoColorScheme: input.Body.IncognitoColorScheme,
				NAT64Prefix:          input.Body.NAT64Prefix,
				AddressPolicy:        input.Body.AddressPolicy,
			}
			if _, err := tracker.PolicyByName(next.AddressPolicy); err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
			if err := opts.Update(next); err != nil {
				return nil, mapErr(err)
			}
			return &optionsOutput{Body: toBody(next)}, nil
		})
}

func toBody(o config.Options) optionsBody {
	return optionsBody{
		RegularColorScheme:   o.RegularColorScheme,
		IncognitoColorScheme: o.IncognitoColorScheme,
		NAT64Prefix:          o.NAT64Prefix,
		AddressPolicy:        o.AddressPolicy,
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, config.ErrInvalidOptions) {
		return huma.Error400BadRequest(err.Error())
	}
	var coded *tracker.Error
	if errors.As(err, &coded) {
		switch coded.Code {
		case tracker.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
