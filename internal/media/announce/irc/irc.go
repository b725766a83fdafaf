// Package irc listens on a tracker's announce channel for new-release
// notifications and feeds matches into the shared match pipeline (spec.md
// §4.7 "IRC announces"). It is the lower-latency sibling of
// internal/media/announce/rss: trackers push announces here the instant a
// release is uploaded, instead of waiting for the next RSS poll.
package irc

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	irc "github.com/thoj/go-ircevent"

	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/match"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/media/pipeline"
	"github.com/atlasarr/atlasarr/internal/metrics"
	"github.com/atlasarr/atlasarr/internal/store"
)

// baseReconnectDelay is the initial wait before retrying a dropped
// connection; it grows geometrically up to maxReconnectMultiplier times
// itself, then holds (spec.md §4.7 "exponential backoff, bounded").
const (
	baseReconnectDelay     = 5 * time.Second
	maxReconnectMultiplier = 5
	maxReconnectAttempts   = 20
)

// Config describes one tracker IRC announce channel to join.
type Config struct {
	Server         string // host:port
	TLS            bool
	Nick           string
	NickservPwd    string
	Channel        string
	AnnouncerNicks []string // only messages from these nicks are parsed, when set

	// Reconnect governs the reconnect-on-drop behavior. A zero value for
	// ReconnectDelay or ReconnectMaxRetries falls back to baseReconnectDelay
	// and maxReconnectAttempts respectively, so configs built without setting
	// these fields keep the previous hardcoded behavior.
	Reconnect           bool
	ReconnectDelay      time.Duration
	ReconnectMaxRetries int
}

func (c Config) reconnectDelay() time.Duration {
	if c.ReconnectDelay > 0 {
		return c.ReconnectDelay
	}
	return baseReconnectDelay
}

func (c Config) reconnectMaxRetries() int {
	if c.ReconnectMaxRetries > 0 {
		return c.ReconnectMaxRetries
	}
	return maxReconnectAttempts
}

// Parser turns one raw announce line into a synthesized Release plus
// targeting info. Trackers vary wildly in announce grammar, so this is
// supplied by the caller rather than hardcoded.
type Parser func(line string) (AnnounceResult, bool)

// AnnounceResult is one parsed announce line.
type AnnounceResult struct {
	Title       string
	DownloadURL string
}

// Listener maintains one long-lived IRC connection and matches every
// announce line it carries against requests currently waiting for a
// release.
type Listener struct {
	Store    *store.Store
	Pipeline *pipeline.Executor
	Config   Config
	Parse    Parser

	mu   sync.Mutex
	conn *irc.Connection
}

// New builds a Listener. parse must be supplied by the caller since
// announce-line grammar is tracker-specific.
func New(s *store.Store, exec *pipeline.Executor, cfg Config, parse Parser) *Listener {
	return &Listener{Store: s, Pipeline: exec, Config: cfg, Parse: parse}
}

// Run connects and blocks, reconnecting with exponential backoff on any
// disconnect, until ctx is cancelled. Intended to run in its own goroutine
// for the lifetime of the process.
func (l *Listener) Run(ctx context.Context) error {
	logger := log.WithComponent("announce.irc")
	attempt := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn := l.newConnection()
		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		if err := conn.Connect(l.Config.Server); err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("irc connect failed")
		} else {
			attempt = 0
			conn.Loop() // blocks until disconnected
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !l.Config.Reconnect {
			return fmt.Errorf("announce/irc: connection dropped, reconnect disabled")
		}
		attempt++
		if maxRetries := l.Config.reconnectMaxRetries(); attempt > maxRetries {
			return fmt.Errorf("announce/irc: giving up after %d reconnect attempts", attempt)
		}

		delay := l.reconnectDelay(attempt)
		logger.Info().Dur("delay", delay).Int("attempt", attempt).Msg("irc reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Stop disconnects the current connection, if any.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Quit()
	}
}

func (l *Listener) reconnectDelay(attempt int) time.Duration {
	multiplier := 1
	for i := 1; i < attempt && multiplier < maxReconnectMultiplier; i++ {
		multiplier *= 2
	}
	if multiplier > maxReconnectMultiplier {
		multiplier = maxReconnectMultiplier
	}
	base := l.Config.reconnectDelay()
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	return base*time.Duration(multiplier) + jitter
}

func (l *Listener) newConnection() *irc.Connection {
	conn := irc.IRC(l.Config.Nick, l.Config.Nick)
	conn.UseTLS = l.Config.TLS
	conn.VerboseCallbackHandler = false

	conn.AddCallback("001", func(e *irc.Event) {
		if l.Config.NickservPwd != "" {
			conn.Privmsg("NickServ", "IDENTIFY "+l.Config.NickservPwd)
		}
		conn.Join(l.Config.Channel)
	})
	conn.AddCallback("PRIVMSG", func(e *irc.Event) {
		if len(l.Config.AnnouncerNicks) > 0 && !containsNick(l.Config.AnnouncerNicks, e.Nick) {
			return
		}
		l.handleLine(e.Message())
	})
	return conn
}

func containsNick(nicks []string, nick string) bool {
	for _, n := range nicks {
		if strings.EqualFold(n, nick) {
			return true
		}
	}
	return false
}

func (l *Listener) handleLine(line string) {
	result, ok := l.Parse(line)
	if !ok {
		return
	}

	logger := log.WithComponent("announce.irc")
	waiting, err := l.Store.ListRequestsByStatus(model.StatusAwaiting, model.StatusQualityUnavailable)
	if err != nil {
		logger.Error().Err(err).Msg("list waiting requests")
		return
	}

	candidate := match.Candidate{RawTitle: result.Title}
	for _, req := range waiting {
		if req.Kind == model.KindMovie {
			outcome := match.Match(candidate, match.TargetFromRequest(req))
			if !outcome.Matched {
				continue
			}
			release := releaseFromAnnounce(result, outcome)
			if err := l.Pipeline.ApplyAnnounceMatch(req.ID, pipeline.AnnounceCandidate{Release: release}); err != nil {
				logger.Warn().Err(err).Str("request_id", req.ID).Msg("irc match rejected by pipeline")
			} else {
				metrics.RecordAnnounceMatch("irc")
			}
			continue
		}

		items, err := l.Store.ListProcessingItems(req.ID)
		if err != nil {
			logger.Error().Err(err).Str("request_id", req.ID).Msg("list processing items")
			continue
		}
		for _, pi := range items {
			if pi.Status != model.ItemStatusAwaiting && pi.Status != model.ItemStatusQualityUnavailable {
				continue
			}
			outcome := match.Match(candidate, match.TargetFromProcessingItem(req.Title, req.RequiredResolution, pi))
			if !outcome.Matched {
				continue
			}
			release := releaseFromAnnounce(result, outcome)
			ac := pipeline.AnnounceCandidate{Release: release, Season: &outcome.Season}
			if !outcome.SeasonPack {
				ep := outcome.Episode
				ac.Episode = &ep
			}
			if err := l.Pipeline.ApplyAnnounceMatch(req.ID, ac); err != nil {
				logger.Warn().Err(err).Str("request_id", req.ID).Msg("irc match rejected by pipeline")
			} else {
				metrics.RecordAnnounceMatch("irc")
			}
		}
	}
}

func releaseFromAnnounce(r AnnounceResult, outcome match.Outcome) model.Release {
	return model.Release{
		Title:       r.Title,
		Resolution:  outcome.Resolution,
		DownloadURL: r.DownloadURL,
		IndexerName: "irc",
	}
}

// SynthesizeTorrentURL builds a tracker's torrent download URL from its RSS
// key, torrent id, and release name, for trackers whose IRC announces carry
// only the torrent id and rely on a separate RSS key for authenticated
// downloads (spec.md §4.7).
func SynthesizeTorrentURL(baseURL, rssKey, torrentID, name string) string {
	id, err := strconv.Atoi(torrentID)
	if err != nil {
		id = 0
	}
	return fmt.Sprintf("%s/torrent/%d/%s?key=%s", strings.TrimRight(baseURL, "/"), id, urlEncodeName(name), rssKey)
}

func urlEncodeName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, " ", "."), "'", "")
}
