// Package httpboundary is a thin, illustrative HTTP middleware adapter for
// the go-chi/chi/v5 router, demonstrating spec.md §6.3's HTTP boundary
// contract. The boundary itself is out of core scope (spec.md §1 excludes
// "the HTTP/gRPC transport layer — the caller supplies request context and
// consumes evidence"); this file exists only as a reference wiring, kept
// minimal and isolated. Its own package tests cover the allow/block
// ordering contract only.
package httpboundary

import (
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/wavecore/botdetect/internal/action"
	"github.com/wavecore/botdetect/internal/orchestrator"
	"github.com/wavecore/botdetect/internal/policy"
	"github.com/wavecore/botdetect/internal/response"
	"github.com/wavecore/botdetect/internal/signal"
	"github.com/wavecore/botdetect/internal/signature"
)

// Pipeline bundles the collaborators a middleware needs to run one request
// through the full detection pipeline end to end.
type Pipeline struct {
	Orchestrator *orchestrator.Orchestrator
	Resolver     *policy.Resolver
	Actions      *action.Registry
	Signatures   *signature.Manager
	Responses    *response.Coordinator
}

// Middleware returns a chi-compatible middleware that runs every request
// through the orchestrator at most once (spec.md §6.3), dispatches the
// resolved action before invoking next, and sets the optional
// X-Bot-* response headers only when the request is allowed to continue.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		resolved := p.Resolver.Resolve(policy.Request{Path: r.URL.Path, APIKey: apiKey})

		sink := signal.NewOperationSink()
		reqCtx := orchestrator.RequestContext{
			RequestID:  uuid.NewString(),
			ClientAddr: clientIP(r),
			UserAgent:  r.UserAgent(),
			Path:       r.URL.Path,
			Method:     r.Method,
			Headers:    r.Header,
			Sink:       sink,
		}

		ev := p.Orchestrator.Run(r.Context(), reqCtx, resolved.Detection, resolved.WeightOverrides, resolved.DisabledDetectorNames)

		result := p.Actions.Dispatch(r.Context(), ev, resolved.Action)

		if result.Continue {
			setEvidenceHeaders(w, ev)
		}

		if p.Responses != nil && p.Signatures != nil {
			uaShape := signature.UAShape{} // a real wiring derives this from r.UserAgent(); left to the caller's own UA classifier
			hash := p.Signatures.ComputeSignature(uaShape, reqCtx.ClientAddr, "")
			statusCode := result.StatusCode
			if result.Continue {
				statusCode = 0 // filled in by a ResponseWriter wrapper in a full integration; omitted here
			}
			defer func() {
				p.Responses.Observe(reqCtx, ev, hash, response.ObservedResponse{StatusCode: statusCode})
			}()
		}

		if !result.Continue {
			for k, v := range result.Headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(result.StatusCode)
			_, _ = w.Write(result.Body)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setEvidenceHeaders(w http.ResponseWriter, ev orchestrator.Evidence) {
	w.Header().Set("X-Bot-Detected", strconv.FormatBool(ev.BotProbability >= 0.5))
	w.Header().Set("X-Bot-Probability", strconv.FormatFloat(ev.BotProbability, 'f', 2, 64))
	w.Header().Set("X-Bot-Confidence", strconv.FormatFloat(ev.DetectionConfidence, 'f', 2, 64))
	w.Header().Set("X-Bot-Risk-Band", string(ev.RiskBand))
	if ev.PrimaryBotName != "" {
		w.Header().Set("X-Bot-Name", ev.PrimaryBotName)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
