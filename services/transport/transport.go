// Package transport delivers a reading snapshot to an InfluxDB-compatible
// endpoint as one line-protocol record.
package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"weatherstation-go/errcode"
	"weatherstation-go/readings"
	"weatherstation-go/services/notify"
	"weatherstation-go/types"
	"weatherstation-go/x/strx"
)

const (
	KindV1 = "v1" // POST /write, success is 204
	KindV2 = "v2" // /api/v2/write through the official client

	DefaultMeasurement = "weather"
	TestDatabase       = "test"
)

// Link is an established connection the client sends over.
type Link interface {
	IsConnected() bool
	HTTPClient() *http.Client
	Secret() string
}

type Config struct {
	Kind        string
	Server      string
	Port        int
	Database    string // v1 database, or v2 bucket when Bucket is empty
	User        string
	Logger      string // device identity, also the User-Agent
	Location    string
	Measurement string
	Org         string // v2 only
	Bucket      string // v2 only
}

type Client struct {
	cfg  Config
	n    *notify.Notifier
	link Link
}

func New(cfg Config, n *notify.Notifier) *Client {
	cfg.Kind = strx.Coalesce(cfg.Kind, KindV1)
	cfg.Measurement = strx.Coalesce(cfg.Measurement, DefaultMeasurement)
	if cfg.Port == 0 {
		cfg.Port = 8086
	}
	if n == nil {
		n = notify.New(nil, nil, notify.Config{})
	}
	return &Client{cfg: cfg, n: n}
}

// WithDatabase returns a client writing to another database (and bucket).
func (c *Client) WithDatabase(db string) *Client {
	cfg := c.cfg
	cfg.Database = db
	if cfg.Bucket != "" {
		cfg.Bucket = db
	}
	return &Client{cfg: cfg, n: c.n, link: c.link}
}

// Target names the database or bucket written to.
func (c *Client) Target() string {
	if c.cfg.Kind == KindV2 {
		return strx.Coalesce(c.cfg.Bucket, c.cfg.Database)
	}
	return c.cfg.Database
}

// Begin binds the client to a connected link.
func (c *Client) Begin(link Link) bool {
	c.link = link
	return link != nil && link.IsConnected()
}

// Point builds the record for s. The second result is false when s holds no
// value at all.
func (c *Client) Point(s *readings.Snapshot) (*write.Point, bool) {
	if s == nil || s.Empty() {
		return nil, false
	}
	fields := make(map[string]interface{}, s.Len())
	s.Each(func(c types.Category, r readings.Reading) { fields[c.Field()] = r.Value })
	tags := map[string]string{"logger": c.cfg.Logger}
	if c.cfg.Location != "" {
		tags["location"] = c.cfg.Location
	}
	return influxdb2.NewPoint(c.cfg.Measurement, tags, fields, time.Time{}), true
}

// Send performs one write. It is never retried here.
func (c *Client) Send(ctx context.Context, s *readings.Snapshot) error {
	if c.link == nil || !c.link.IsConnected() || c.link.HTTPClient() == nil {
		return &errcode.E{C: errcode.NotConnected, Op: "transport.send"}
	}
	p, ok := c.Point(s)
	if !ok {
		c.n.Info("*TRANSPORT: Empty field set!")
		return nil
	}
	if c.cfg.Kind == KindV2 {
		return c.sendV2(ctx, p)
	}
	return c.sendV1(ctx, p)
}

func (c *Client) baseURL() string {
	return "http://" + net.JoinHostPort(c.cfg.Server, strconv.Itoa(c.cfg.Port))
}

func (c *Client) sendV1(ctx context.Context, p *write.Point) error {
	line := Encode(p)
	c.logRecord(line)

	q := url.Values{}
	q.Set("db", c.cfg.Database)
	q.Set("precision", "s")
	q.Set("user", c.cfg.User)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/write?"+q.Encode(), strings.NewReader(line))
	if err != nil {
		return errcode.Wrap(errcode.InvalidConfig, "transport.send", err)
	}
	req.ContentLength = int64(len(line))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(line)))
	req.Header.Set("User-Agent", c.cfg.Logger)
	if secret := c.link.Secret(); secret != "" {
		req.Header.Set("Authorization", "Token "+secret)
	}

	resp, err := c.link.HTTPClient().Do(req)
	if err != nil {
		return errcode.Wrap(errcode.NotConnected, "transport.send", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusNoContent {
		c.n.Warn("*TRANSPORT: Failed with status code", notify.Int(int64(resp.StatusCode)))
		return &errcode.E{C: errcode.BadStatus, Op: "transport.send", Msg: resp.Status}
	}
	return nil
}

func (c *Client) sendV2(ctx context.Context, p *write.Point) error {
	c.logRecord(Encode(p))
	opts := influxdb2.DefaultOptions().
		SetHTTPClient(c.link.HTTPClient()).
		SetPrecision(time.Second)
	cl := influxdb2.NewClientWithOptions(c.baseURL(), c.link.Secret(), opts)
	defer cl.Close()
	if err := cl.WriteAPIBlocking(c.cfg.Org, c.Target()).WritePoint(ctx, p); err != nil {
		return errcode.Wrap(errcode.BadStatus, "transport.send", err)
	}
	return nil
}

func (c *Client) logRecord(line string) {
	head, fieldSet, _ := strings.Cut(strings.TrimSuffix(line, "\n"), " ")
	measurement, tagSet, _ := strings.Cut(head, ",")
	c.n.Info("*TRANSPORT: measurement", notify.Str(measurement))
	c.n.Info("*TRANSPORT: tag_set", notify.Str(tagSet))
	c.n.Info("*TRANSPORT: field_set", notify.Str(fieldSet))
}

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	keyEscaper         = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)
)

// Encode renders p as one line-protocol line with every float field at four
// decimals. Tags and fields keep the point's sorted order; no timestamp is
// written, the server stamps arrival time.
func Encode(p *write.Point) string {
	var b bytes.Buffer
	b.WriteString(measurementEscaper.Replace(p.Name()))
	for _, t := range p.TagList() {
		if t.Value == "" {
			continue
		}
		b.WriteByte(',')
		b.WriteString(keyEscaper.Replace(t.Key))
		b.WriteByte('=')
		b.WriteString(keyEscaper.Replace(t.Value))
	}
	for i, f := range p.FieldList() {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(keyEscaper.Replace(f.Key))
		b.WriteByte('=')
		switch v := f.Value.(type) {
		case float64:
			b.WriteString(strconv.FormatFloat(v, 'f', 4, 64))
		case int64:
			b.WriteString(strconv.FormatInt(v, 10) + "i")
		case string:
			b.WriteString(strconv.Quote(v))
		case bool:
			b.WriteString(strconv.FormatBool(v))
		}
	}
	b.WriteByte('\n')
	return b.String()
}
