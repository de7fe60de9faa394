package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// restError is the error body returned by the REST API.
type restError struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

func (n *Node) LoadTracks(ctx context.Context, identifier string) (*node.LoadResult, error) {
	body, err := n.do(ctx, http.MethodGet, "/loadtracks?identifier="+url.QueryEscape(identifier), nil)
	if err != nil {
		return nil, err
	}
	return decodeLoad(body, identifier)
}

func (n *Node) Play(ctx context.Context, guildID string, t *track.Track, start time.Duration) error {
	if t == nil || t.IsPartial() {
		return errors.New("cannot play an unresolved track")
	}
	update := map[string]any{
		"track": map[string]any{"encoded": t.ID},
	}
	if start > 0 {
		update["position"] = start.Milliseconds()
	}
	return n.updatePlayer(ctx, guildID, update)
}

func (n *Node) Stop(ctx context.Context, guildID string) error {
	return n.updatePlayer(ctx, guildID, map[string]any{
		"track": map[string]any{"encoded": nil},
	})
}

func (n *Node) Pause(ctx context.Context, guildID string, paused bool) error {
	return n.updatePlayer(ctx, guildID, map[string]any{"paused": paused})
}

func (n *Node) Seek(ctx context.Context, guildID string, position time.Duration) error {
	return n.updatePlayer(ctx, guildID, map[string]any{"position": position.Milliseconds()})
}

func (n *Node) SetVolume(ctx context.Context, guildID string, volume int) error {
	return n.updatePlayer(ctx, guildID, map[string]any{"volume": volume})
}

func (n *Node) SetFilters(ctx context.Context, guildID string, filters node.Filters) error {
	return n.updatePlayer(ctx, guildID, map[string]any{"filters": filters})
}

func (n *Node) UpdateVoice(ctx context.Context, guildID string, voice node.VoiceState) error {
	if !voice.Ready() {
		return errors.New("incomplete voice state")
	}
	return n.updatePlayer(ctx, guildID, map[string]any{
		"voice": map[string]string{
			"token":     voice.Token,
			"endpoint":  voice.Endpoint,
			"sessionId": voice.SessionID,
		},
	})
}

func (n *Node) Destroy(ctx context.Context, guildID string) error {
	sid, err := n.session()
	if err != nil {
		return err
	}
	_, err = n.do(ctx, http.MethodDelete, "/sessions/"+sid+"/players/"+guildID, nil)
	return err
}

func (n *Node) updatePlayer(ctx context.Context, guildID string, update map[string]any) error {
	sid, err := n.session()
	if err != nil {
		return err
	}
	_, err = n.do(ctx, http.MethodPatch, "/sessions/"+sid+"/players/"+guildID, update)
	return err
}

func (n *Node) configureResume(ctx context.Context, sid string) error {
	_, err := n.do(ctx, http.MethodPatch, "/sessions/"+sid, map[string]any{
		"resuming": true,
		"timeout":  int(n.cfg.ResumeTimeout.Seconds()),
	})
	return err
}

func (n *Node) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.restURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", n.cfg.Password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 300 {
		var re restError
		if json.Unmarshal(body, &re) == nil && re.Message != "" {
			return nil, errors.Newf("%s %s: %d %s", method, path, resp.StatusCode, re.Message)
		}
		return nil, errors.Newf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}
