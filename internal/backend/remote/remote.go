// Package remote searches a repository through a GraphQL code search server
// exposing the repositoryGrep query.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"srcgrep/internal/backend"
	"srcgrep/internal/domain"
)

const grepQuery = `query repositoryGrep($kind: RepositoryKind!, $id: ID!, $query: String!, $rev: String) {
  repositoryGrep(kind: $kind, id: $id, query: $query, rev: $rev) {
    path
    lines {
      line { text base64 }
      byteOffset
      lineNumber
      subMatches { byteStart byteEnd }
    }
  }
}`

// ErrGraphQL is wrapped by errors reported in a GraphQL response body
var ErrGraphQL = errors.New("graphql error")

// Client is a backend.Searcher talking to one GraphQL endpoint
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// New creates a client. A zero timeout leaves deadlines to the caller's
// context.
func New(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type grepRequest struct {
	Query     string        `json:"query"`
	Variables grepVariables `json:"variables"`
}

type grepVariables struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Query string `json:"query"`
	Rev   string `json:"rev,omitempty"`
}

type grepResponse struct {
	Data struct {
		RepositoryGrep []grepFile `json:"repositoryGrep"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type grepFile struct {
	Path  string     `json:"path"`
	Lines []grepLine `json:"lines"`
}

type grepLine struct {
	Line struct {
		Text   *string `json:"text"`
		Base64 *string `json:"base64"`
	} `json:"line"`
	ByteOffset int `json:"byteOffset"`
	LineNumber int `json:"lineNumber"`
	SubMatches []struct {
		ByteStart int `json:"byteStart"`
		ByteEnd   int `json:"byteEnd"`
	} `json:"subMatches"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// Search runs repositoryGrep for query
func (c *Client) Search(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error) {
	files, err := c.grep(ctx, repo, query, rev)
	if err != nil {
		return nil, backend.NewTransportError("search", repo, query, err)
	}
	return files, nil
}

func (c *Client) grep(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error) {
	if query == "" {
		return nil, backend.ErrEmptyQuery
	}
	if !repo.Kind.Valid() || repo.Kind == domain.RepositoryKindLocal {
		return nil, fmt.Errorf("%w: kind %q is not served remotely", backend.ErrUnknownRepository, repo.Kind)
	}

	body, err := json.Marshal(grepRequest{
		Query: grepQuery,
		Variables: grepVariables{
			Kind:  strings.ToUpper(string(repo.Kind)),
			ID:    repo.ID,
			Query: query,
			Rev:   rev,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Surface the context error so callers can tell timeouts apart
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var out grepResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}

	files := make([]domain.FileMatches, 0, len(out.Data.RepositoryGrep))
	for _, f := range out.Data.RepositoryGrep {
		files = append(files, f.toDomain())
	}
	log.Printf("Remote: %q in %s returned %d files", query, repo, len(files))
	return files, nil
}

func (f grepFile) toDomain() domain.FileMatches {
	fm := domain.FileMatches{Path: f.Path, Lines: make([]domain.MatchedLine, 0, len(f.Lines))}
	for _, l := range f.Lines {
		ml := domain.MatchedLine{
			LineNumber: l.LineNumber,
			ByteOffset: l.ByteOffset,
		}
		switch {
		case l.Line.Text != nil:
			ml.Content.Text = *l.Line.Text
		case l.Line.Base64 != nil:
			ml.Content.Base64 = *l.Line.Base64
		}
		for _, s := range l.SubMatches {
			ml.SubMatches = append(ml.SubMatches, domain.SubMatch{ByteStart: s.ByteStart, ByteEnd: s.ByteEnd})
		}
		fm.Lines = append(fm.Lines, ml)
	}
	return fm
}
