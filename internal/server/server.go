// Package server wires the mediator to the outside world: the
// player/viewer websocket routes, the handshake (subprotocol +
// bearer-token verification), and a few small HTTP conveniences
// (spec §6).
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/arenaserver/battlearena/internal/arena"
	"github.com/arenaserver/battlearena/internal/arenalog"
	"github.com/arenaserver/battlearena/internal/config"
	"github.com/arenaserver/battlearena/internal/session"
	"github.com/arenaserver/battlearena/internal/token"
)

const (
	readTimeout       = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 10 * time.Minute
	shutdownGrace     = 5 * time.Second
)

func securityHeaders(cfg *config.Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.Scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// Serve builds the mediator and engine host, starts the tick loop,
// and runs the HTTP(S) server until the process receives a shutdown
// signal. This is config.NewCmd's serve callback.
func Serve(cmd *cobra.Command, cfg *config.Config) error {
	log := arenalog.New(cfg.Verbose)
	defer log.Sync()

	log.Infof("starting arena-server, bind=%s port=%d", cfg.Bind, cfg.Port)

	ruleScript, err := loadRuleScript(cfg.RuleFilePath)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	host, err := arena.NewHost(ruleScript)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	defer host.Close()

	mediator := arena.NewMediator(log, host, cfg.MinPlayers, cfg.MaxPlayers, cfg.LobbyWait, cfg.TicksPerGame, cfg.SecondsPerTick)
	go mediator.Run()
	defer mediator.Shutdown()

	verifier := token.NewVerifier(cfg.TokenSecret)

	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, _ any) {
		securityHeaders(cfg, w)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	mux.GET("/player", wsHandler(cfg, log, mediator, verifier, token.RolePlayer))
	mux.GET("/viewer", wsHandler(cfg, log, mediator, verifier, token.RoleViewer))
	mux.GET("/healthz", healthzHandler(mediator))
	mux.GET("/version", versionHandler(cfg))
	mux.GET("/viewer/:token/qr", qrHandler(cfg))

	if cfg.Profile {
		registerProfileHandlers(mux)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		Handler:           mux,
		IdleTimeout:       idleTimeout,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s://%s", cfg.Scheme(), srv.Addr)
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadRuleScript(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read rule file %q: %w", path, err)
	}
	return string(b), nil
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const subprotocolLiteral = "game-server"

// wsHandler performs the handshake spec §6 requires: exactly two
// negotiated subprotocol tokens, the literal "game-server" and the
// bearer token, with the token's role matching the route.
func wsHandler(cfg *config.Config, log *arenalog.Logger, mediator *arena.Mediator, verifier *token.Verifier, wantRole token.Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		offered := websocket.Subprotocols(r)
		if len(offered) != 2 {
			http.Error(w, "expected exactly two subprotocols: \"game-server\" and a bearer token", http.StatusBadRequest)
			return
		}

		var bearer string
		haveLiteral := false
		for _, p := range offered {
			if p == subprotocolLiteral {
				haveLiteral = true
			} else {
				bearer = p
			}
		}
		if !haveLiteral || bearer == "" {
			http.Error(w, "missing required subprotocol", http.StatusBadRequest)
			return
		}

		payload, err := verifier.Verify(bearer, wantRole)
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		upgrader := wsUpgrader
		upgrader.Subprotocols = offered

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("websocket upgrade failed for %s: %v", realIP(r), err)
			return
		}

		log.Debugf("connection established: role=%s id=%s from=%s", payload.Role, payload.Subject, realIP(r))

		s := session.New(conn, mediator, log, payload)
		s.Serve()
	}
}

func healthzHandler(mediator *arena.Mediator) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok: %s\n", mediator.GetServerState())
	}
}

func versionHandler(cfg *config.Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "arena-server v0.1.0\n")
	}
}

// qrHandler renders a QR code encoding the viewer websocket URL for a
// given bearer token, as a scan-to-spectate convenience (SPEC_FULL.md
// §6 supplement; not part of the core protocol).
func qrHandler(cfg *config.Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tok := ps.ByName("token")
		if tok == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}

		scheme := "ws"
		if cfg.Scheme() == "https" {
			scheme = "wss"
		}
		url := fmt.Sprintf("%s://%s/viewer?token=%s", scheme, r.Host, tok)

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
