// File: internal/mailbox/gmail.go
// Minimal Gmail REST v1 surface: message listing/search, full-message fetch,
// and an optional read-state mutation. Authorization is per mailbox account,
// backed by a client-secrets file and a cached token; the oauth2 transport
// refreshes tokens transparently and refreshed tokens are written back so
// the next run skips the consent flow.
package mailbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/xkilldash9x/claimpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const gmailBase = "https://gmail.googleapis.com/gmail/v1"

var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
}

// MessageRef identifies a listed message and its server-reported delivery
// timestamp (milliseconds since epoch).
type MessageRef struct {
	ID           string
	InternalDate int64
}

// Header is a single RFC 822 header as returned by the API.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BodyPart is a MIME part. Data is base64url-encoded.
type BodyPart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []BodyPart `json:"parts"`
}

// Message is a fully fetched message.
type Message struct {
	ID           string `json:"id"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		MimeType string   `json:"mimeType"`
		Headers  []Header `json:"headers"`
		Body     struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []BodyPart `json:"parts"`
	} `json:"payload"`
}

// Subject returns the message subject header, or "".
func (m *Message) Subject() string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, "Subject") {
			return h.Value
		}
	}
	return ""
}

// PlainText decodes the message body. Single-part messages carry the code
// directly in the body data; multi-part messages are searched one level deep
// (including each part's own sub-parts) for a text/plain part. When no
// explicit body is found the provider-supplied snippet is the fallback.
func (m *Message) PlainText() string {
	if m.Payload.Body.Data != "" {
		return decodeBase64URL(m.Payload.Body.Data)
	}
	for _, part := range m.Payload.Parts {
		if part.MimeType == "text/plain" && part.Body.Data != "" {
			return decodeBase64URL(part.Body.Data)
		}
		for _, sub := range part.Parts {
			if sub.MimeType == "text/plain" && sub.Body.Data != "" {
				return decodeBase64URL(sub.Body.Data)
			}
		}
	}
	return m.Snippet
}

// decodeBase64URL tolerates missing padding, which Gmail omits.
func decodeBase64URL(data string) string {
	if pad := len(data) % 4; pad != 0 {
		data += strings.Repeat("=", 4-pad)
	}
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return ""
	}
	return string(b)
}

// Client is the mailbox surface the retriever polls. The live implementation
// is GmailClient; tests supply fakes.
type Client interface {
	// List returns candidate messages for a search query, newest first.
	List(ctx context.Context, query string, max int) ([]MessageRef, error)
	// Get fetches the full message by identifier.
	Get(ctx context.Context, id string) (*Message, error)
	// MarkRead removes the UNREAD label from a message.
	MarkRead(ctx context.Context, id string) error
}

// GmailClient talks to the Gmail REST API for one mailbox account.
type GmailClient struct {
	httpClient *http.Client
	base       string
	logger     *zap.Logger
}

var _ Client = (*GmailClient)(nil)

// clientSecrets mirrors the relevant slice of a Google client-secrets file.
type clientSecrets struct {
	Installed struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		AuthURI      string   `json:"auth_uri"`
		TokenURI     string   `json:"token_uri"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
}

// NewGmailClient builds an authorized client for the configured inbox
// account. A missing credentials file is a configuration error. When no
// cached token exists yet, an interactive console consent flow runs once and
// the obtained token is cached for subsequent runs.
func NewGmailClient(ctx context.Context, cfg config.OTPConfig, logger *zap.Logger) (*GmailClient, error) {
	secretData, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading mailbox credentials %s: %w", cfg.CredentialsFile, err)
	}
	var secrets clientSecrets
	if err := json.Unmarshal(secretData, &secrets); err != nil {
		return nil, fmt.Errorf("decoding mailbox credentials: %w", err)
	}
	if secrets.Installed.ClientID == "" || secrets.Installed.ClientSecret == "" {
		return nil, fmt.Errorf("mailbox credentials %s missing installed client id/secret", cfg.CredentialsFile)
	}

	redirect := "urn:ietf:wg:oauth:2.0:oob"
	if len(secrets.Installed.RedirectURIs) > 0 {
		redirect = secrets.Installed.RedirectURIs[0]
	}
	oauthCfg := &oauth2.Config{
		ClientID:     secrets.Installed.ClientID,
		ClientSecret: secrets.Installed.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       gmailScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  secrets.Installed.AuthURI,
			TokenURL: secrets.Installed.TokenURI,
		},
	}

	tokenFile := cfg.TokenFile()
	token, err := loadToken(tokenFile)
	if err != nil {
		logger.Info("No cached mailbox token; starting consent flow.", zap.String("account", cfg.InboxAccount))
		token, err = consentFlow(ctx, oauthCfg)
		if err != nil {
			return nil, fmt.Errorf("mailbox consent flow: %w", err)
		}
		if err := saveToken(tokenFile, token); err != nil {
			logger.Warn("Failed to cache mailbox token.", zap.Error(err))
		}
	}

	// Persist refreshed tokens so the stored refresh credential stays current.
	src := &savingTokenSource{
		src:    oauthCfg.TokenSource(ctx, token),
		path:   tokenFile,
		last:   token,
		logger: logger,
	}

	return &GmailClient{
		httpClient: oauth2.NewClient(ctx, src),
		base:       gmailBase,
		logger:     logger,
	}, nil
}

// NewGmailClientForTest builds a client against an arbitrary base URL with a
// plain http.Client. Test hook only.
func NewGmailClientForTest(base string, httpClient *http.Client, logger *zap.Logger) *GmailClient {
	return &GmailClient{httpClient: httpClient, base: base, logger: logger}
}

// List searches messages and returns refs sorted by delivery timestamp
// descending. Ties keep the listing order.
func (g *GmailClient) List(ctx context.Context, query string, max int) ([]MessageRef, error) {
	u := fmt.Sprintf("%s/users/me/messages?q=%s&maxResults=%d", g.base, url.QueryEscape(query), max)

	var listResp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.getJSON(ctx, u, &listResp); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	refs := make([]MessageRef, 0, len(listResp.Messages))
	for _, m := range listResp.Messages {
		var meta struct {
			InternalDate string `json:"internalDate"`
		}
		metaURL := fmt.Sprintf("%s/users/me/messages/%s?format=metadata", g.base, url.PathEscape(m.ID))
		if err := g.getJSON(ctx, metaURL, &meta); err != nil {
			return nil, fmt.Errorf("fetching message metadata: %w", err)
		}
		ts, _ := strconv.ParseInt(meta.InternalDate, 10, 64)
		refs = append(refs, MessageRef{ID: m.ID, InternalDate: ts})
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].InternalDate > refs[j].InternalDate })
	return refs, nil
}

// Get fetches a message in full format.
func (g *GmailClient) Get(ctx context.Context, id string) (*Message, error) {
	u := fmt.Sprintf("%s/users/me/messages/%s?format=full", g.base, url.PathEscape(id))
	var msg Message
	if err := g.getJSON(ctx, u, &msg); err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", id, err)
	}
	return &msg, nil
}

// MarkRead removes the UNREAD label.
func (g *GmailClient) MarkRead(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/users/me/messages/%s/modify", g.base, url.PathEscape(id))
	body := bytes.NewBufferString(`{"removeLabelIds":["UNREAD"]}`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("marking message read: %s", readErrorBody(resp))
	}
	return nil
}

// getJSON performs a GET and decodes the JSON response.
func (g *GmailClient) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailbox API: %s", readErrorBody(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readErrorBody renders a non-200 response for logs, truncated.
func readErrorBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// consentFlow runs the interactive first-use authorization: print the auth
// URL, read the pasted code from stdin, exchange it for a token.
func consentFlow(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following URL in a browser and paste the authorization code:\n%s\n> ", authURL)

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}
	token, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// savingTokenSource writes tokens back to disk whenever the underlying
// source refreshes them.
type savingTokenSource struct {
	mu     sync.Mutex
	src    oauth2.TokenSource
	path   string
	last   *oauth2.Token
	logger *zap.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		if err := saveToken(s.path, tok); err != nil {
			s.logger.Warn("Failed to persist refreshed mailbox token.", zap.Error(err))
		}
		s.last = tok
	}
	return tok, nil
}
