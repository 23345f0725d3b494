// Package report pulls asynchronously generated reports from an OAuth2
// protected reporting API: request, poll until ready, download.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/source"
)

var errNotReady = errors.New("report not ready")

// Config bounds the readiness poll.
type Config struct {
	PollInterval time.Duration
	PollAttempts int
	// HTTPClient is the base transport for token and API calls.
	HTTPClient *http.Client
}

// Adapter connects with Credentials{Host: API base URL, User: client id,
// Password: client secret}. Options: token_url, refresh_token, scope,
// report_type, columns (comma separated), advertisers (comma separated),
// currency.
type Adapter struct {
	cfg Config
}

func New(cfg Config) Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 20
	}
	return Adapter{cfg: cfg}
}

func (a Adapter) Connect(ctx context.Context, creds domain.Credentials, opts map[string]string) (source.Session, error) {
	if creds.Host == "" || opts["token_url"] == "" || opts["refresh_token"] == "" {
		return nil, errors.New("report source: host, token_url and refresh_token are required")
	}
	conf := &oauth2.Config{
		ClientID:     creds.User,
		ClientSecret: creds.Password,
		Endpoint:     oauth2.Endpoint{TokenURL: opts["token_url"], AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       splitCSV(opts["scope"]),
	}
	if a.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.cfg.HTTPClient)
	}
	// Fail at connect time on bad credentials rather than on the first report.
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: opts["refresh_token"]}).Token()
	if err != nil {
		return nil, fmt.Errorf("report source: refresh token: %w", err)
	}
	// Later refreshes outlive the connect deadline.
	ctx = context.WithoutCancel(ctx)
	ts := conf.TokenSource(ctx, tok)

	return &session{
		cfg:         a.cfg,
		base:        strings.TrimRight(creds.Host, "/"),
		client:      oauth2.NewClient(ctx, ts),
		reportType:  opts["report_type"],
		columns:     splitCSV(opts["columns"]),
		advertisers: splitCSV(opts["advertisers"]),
		currency:    opts["currency"],
	}, nil
}

type session struct {
	cfg         Config
	base        string
	client      *http.Client
	reportType  string
	columns     []string
	advertisers []string
	currency    string
}

type column struct {
	ColumnName string `json:"columnName"`
}

type timeRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type reportRequest struct {
	ReportType         string            `json:"reportType"`
	ReportScope        map[string]string `json:"reportScope,omitempty"`
	Columns            []column          `json:"columns"`
	TimeRange          timeRange         `json:"timeRange"`
	StatisticsCurrency string            `json:"statisticsCurrency,omitempty"`
	DownloadFormat     string            `json:"downloadFormat"`
}

type reportStatus struct {
	ID            string `json:"id"`
	IsReportReady bool   `json:"isReportReady"`
	Files         []struct {
		URL string `json:"url"`
	} `json:"files"`
}

func (s *session) Transfer(ctx context.Context, req source.Request) (int, error) {
	scopes := s.advertisers
	if len(scopes) == 0 {
		scopes = []string{""}
	}
	base := req.Pattern
	if base == "" || strings.ContainsAny(base, "*?[") {
		base = "report_" + req.Date.Format(domain.DateKeyLayout) + ".csv"
	}

	copied := 0
	for _, adv := range scopes {
		id, err := s.request(ctx, adv, req.Date)
		if err != nil {
			return copied, err
		}
		st, err := s.poll(ctx, id)
		if err != nil {
			return copied, err
		}
		for i, f := range st.Files {
			name := fileName(base, adv, i, len(st.Files))
			if err := s.download(ctx, f.URL, req.DestDir, name); err != nil {
				return copied, err
			}
			copied++
		}
	}
	return copied, nil
}

func (s *session) request(ctx context.Context, advertiser string, date time.Time) (string, error) {
	day := date.Format("2006-01-02")
	body := reportRequest{
		ReportType:         s.reportType,
		TimeRange:          timeRange{StartDate: day, EndDate: day},
		StatisticsCurrency: s.currency,
		DownloadFormat:     "csv",
	}
	for _, c := range s.columns {
		body.Columns = append(body.Columns, column{ColumnName: c})
	}
	if advertiser != "" {
		body.ReportScope = map[string]string{"advertiserId": advertiser}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var st reportStatus
	if err := s.do(ctx, http.MethodPost, s.base+"/reports", payload, &st); err != nil {
		return "", fmt.Errorf("request report: %w", err)
	}
	if st.ID == "" {
		return "", errors.New("request report: empty report id")
	}
	return st.ID, nil
}

// poll waits for readiness with a fixed interval and a hard attempt cap.
func (s *session) poll(ctx context.Context, id string) (reportStatus, error) {
	var st reportStatus
	op := func() error {
		var cur reportStatus
		if err := s.do(ctx, http.MethodGet, s.base+"/reports/"+id, nil, &cur); err != nil {
			var he *httpError
			if errors.As(err, &he) && he.status < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if !cur.IsReportReady {
			return errNotReady
		}
		st = cur
		return nil
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.PollInterval), uint64(s.cfg.PollAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, errNotReady) {
			return reportStatus{}, fmt.Errorf("report %s not ready after %d polls", id, s.cfg.PollAttempts)
		}
		return reportStatus{}, fmt.Errorf("poll report %s: %w", id, err)
	}
	return st, nil
}

func (s *session) download(ctx context.Context, url, destDir, name string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("download %s: %w", url, &httpError{status: resp.StatusCode})
	}
	return source.WriteFile(destDir, name, resp.Body)
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("http status %d", e.status)
	}
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

func (s *session) do(ctx context.Context, method, url string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *session) Close() error { return nil }

func fileName(base, advertiser string, index, total int) string {
	name := base
	if total > 1 {
		ext := path.Ext(name)
		name = fmt.Sprintf("%s_part%d%s", strings.TrimSuffix(name, ext), index+1, ext)
	}
	if advertiser != "" {
		name = advertiser + "_" + name
	}
	return name
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
