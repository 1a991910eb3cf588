package nietcloud

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"attendbot-backend/lib/htmlutil"
	"attendbot-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

var ErrLoginFailed = fmt.Errorf("failed to log in to the portal")

const (
	loginPath     = "/login.htm"
	dashboardPath = "/home.htm"

	// success is confirmed only by this string appearing in the
	// rendered dashboard
	loginMarker = "Attendance"
)

var (
	loginMarkerDeadline = time.Second * 30
	loginMarkerInterval = time.Second * 2
)

// Client owns one authenticated portal session for one user. It is not
// safe for concurrent use and must be closed before the next user's
// session starts.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	// last fetched dashboard document, refreshed on every marker poll
	dashboard *goquery.Document
	// last fetched summary fragment, re-queried by structural index,
	// never through cached element handles
	summary *goquery.Document
}

type ClientOptions struct {
	BaseUrl string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/nietcloud/http")

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
	}
	return c, nil
}

// Close releases the session. Cookies are dropped so a leaked pointer
// cannot keep acting on the previous user's behalf.
func (c *Client) Close() {
	jar, err := cookiejar.New(nil)
	if err == nil {
		c.Http.SetCookieJar(jar)
	}
	c.Http.GetClient().CloseIdleConnections()
	c.dashboard = nil
	c.summary = nil
}

func (c *Client) getDocument(ctx context.Context, path string) (*goquery.Document, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
}

var dialogRegex = regexp.MustCompile(`alert\(\s*['"]([^'"]*)['"]\s*\)`)

// absorbDialogs logs any inline alert() notices the portal injects
// around login. They show up unpredictably and their absence means
// nothing.
func absorbDialogs(ctx context.Context, doc *goquery.Document) {
	for _, script := range doc.Find("script").Nodes {
		text := htmlutil.GetText(script)
		for _, groups := range dialogRegex.FindAllStringSubmatch(text, -1) {
			slog.InfoContext(ctx, "dismissed portal dialog", "message", groups[1])
		}
	}
}

// Login drives Unauthenticated -> Navigating -> Submitting ->
// DialogHandling -> Authenticated|Failed. A marker-wait timeout is a
// login failure, not a crash.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	doc, err := c.getDocument(ctx, loginPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}

	userInput := doc.Find("input#j_username").First()
	if userInput.Length() == 0 {
		span.SetStatus(codes.Error, "login form not found")
		return fmt.Errorf("could not find the login form on %s", loginPath)
	}
	form := userInput.Closest("form")

	action := form.AttrOr("action", "/j_spring_security_check")
	passName := form.Find("input[type=password]").First().AttrOr("name", "j_password")

	fields := map[string]string{
		"j_username": username,
		passName:     password,
	}
	form.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name != "" {
			fields[name] = input.AttrOr("value", "")
		}
	})

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit credentials")
		return err
	}
	postDoc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err == nil {
		absorbDialogs(ctx, postDoc)
	}

	err = c.waitForMarker(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// waitForMarker re-fetches the dashboard until the marker string shows
// up or the deadline passes. The dashboard renders its widgets late, a
// single fetch right after login routinely misses them.
func (c *Client) waitForMarker(ctx context.Context) error {
	deadline := time.Now().Add(loginMarkerDeadline)
	for {
		doc, err := c.getDocument(ctx, dashboardPath)
		if err == nil {
			absorbDialogs(ctx, doc)
			body := htmlutil.NormalizeSpace(doc.Find("body").Text())
			if strings.Contains(body, loginMarker) {
				c.dashboard = doc
				return nil
			}
		}

		if time.Now().After(deadline) {
			return ErrLoginFailed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loginMarkerInterval):
		}
	}
}

// LoginWithRetry retries Login with a short jittered pause between
// attempts. ErrLoginFailed after the last attempt is still
// ErrLoginFailed.
func (c *Client) LoginWithRetry(ctx context.Context, username, password string, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = c.Login(ctx, username, password)
		if err == nil {
			return nil
		}
		slog.WarnContext(
			ctx, "login attempt failed",
			"attempt", i+1,
			"of", attempts,
			"err", err,
		)
		if i == attempts-1 {
			break
		}

		pauseMs, randErr := random.IntRange(500, 2000)
		if randErr != nil {
			pauseMs = 1000
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(pauseMs) * time.Millisecond):
		}
	}
	return err
}
