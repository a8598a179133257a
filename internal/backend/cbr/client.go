// ABOUTME: HTTP client for the CBR daily rates and currency dictionary XML feeds
// ABOUTME: Decodes windows-1251 XML and decimal-comma numbers into typed rates

package cbr

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/instrument"
)

const (
	dailyPath      = "XML_daily.asp"
	dictionaryPath = "XML_valFull.asp"
	dateLayout     = "02.01.2006"
	maxBodyBytes   = 4 << 20
)

// Rate is one currency's official rate against the rouble.
type Rate struct {
	Code     string    `json:"code"`
	NumCode  int       `json:"num_code"`
	Name     string    `json:"name"`
	Nominal  int       `json:"nominal"`
	Value    float64   `json:"value"`     // roubles per Nominal units
	UnitRate float64   `json:"unit_rate"` // roubles per single unit
	Date     time.Time `json:"date"`
}

// DailyRates is the XML_daily.asp feed for one date.
type DailyRates struct {
	Date  time.Time
	Rates map[string]Rate
}

// Currency is an entry of the XML_valFull.asp dictionary.
type Currency struct {
	ID      string
	Name    string
	EngName string
	Nominal int
	ISONum  int
	ISOChar string
}

// Client fetches CBR feeds.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a client for baseURL (for example https://www.cbr.ru/scripts/).
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		now:     time.Now,
		logger:  logger.With("component", "cbr"),
	}
}

type valCurs struct {
	XMLName xml.Name `xml:"ValCurs"`
	Date    string   `xml:"Date,attr"`
	Valutes []valute `xml:"Valute"`
}

type valute struct {
	ID        string `xml:"ID,attr"`
	NumCode   string `xml:"NumCode"`
	CharCode  string `xml:"CharCode"`
	Nominal   string `xml:"Nominal"`
	Name      string `xml:"Name"`
	Value     string `xml:"Value"`
	VunitRate string `xml:"VunitRate"`
}

type valuta struct {
	XMLName xml.Name     `xml:"Valuta"`
	Items   []valutaItem `xml:"Item"`
}

type valutaItem struct {
	ID          string `xml:"ID,attr"`
	Name        string `xml:"Name"`
	EngName     string `xml:"EngName"`
	Nominal     string `xml:"Nominal"`
	ISONumCode  string `xml:"ISO_Num_Code"`
	ISOCharCode string `xml:"ISO_Char_Code"`
}

// DailyRates fetches the official rates. A zero date requests the latest.
func (c *Client) DailyRates(ctx context.Context, date time.Time) (*DailyRates, error) {
	query := url.Values{}
	if !date.IsZero() {
		query.Set("date_req", date.Format("02/01/2006"))
	}

	var doc valCurs
	if err := c.fetch(ctx, dailyPath, query, &doc); err != nil {
		return nil, err
	}

	day := c.now().UTC().Truncate(24 * time.Hour)
	if doc.Date != "" {
		parsed, err := time.Parse(dateLayout, doc.Date)
		if err != nil {
			return nil, backend.InvalidResponse(fmt.Errorf("parsing ValCurs date %q: %w", doc.Date, err))
		}
		day = parsed
	} else {
		c.logger.Warn("daily rates without Date attribute, using today")
	}

	out := &DailyRates{Date: day, Rates: make(map[string]Rate, len(doc.Valutes))}
	for _, v := range doc.Valutes {
		rate, err := v.toRate(day)
		if err != nil {
			return nil, backend.InvalidResponse(err)
		}
		out.Rates[rate.Code] = rate
	}
	if len(out.Rates) == 0 {
		return nil, backend.InvalidResponse(fmt.Errorf("daily rates feed has no currencies"))
	}
	return out, nil
}

func (v valute) toRate(day time.Time) (Rate, error) {
	code := strings.ToUpper(strings.TrimSpace(v.CharCode))
	if code == "" {
		return Rate{}, fmt.Errorf("valute %s has no CharCode", v.ID)
	}
	nominal, err := atoi(v.Nominal, 1)
	if err != nil {
		return Rate{}, fmt.Errorf("valute %s nominal: %w", code, err)
	}
	numCode, _ := atoi(v.NumCode, 0)
	value, err := parseDecimal(v.Value)
	if err != nil {
		return Rate{}, fmt.Errorf("valute %s value: %w", code, err)
	}

	unit := value / float64(nominal)
	if strings.TrimSpace(v.VunitRate) != "" {
		unit, err = parseDecimal(v.VunitRate)
		if err != nil {
			return Rate{}, fmt.Errorf("valute %s unit rate: %w", code, err)
		}
	}

	return Rate{
		Code:     code,
		NumCode:  numCode,
		Name:     strings.TrimSpace(v.Name),
		Nominal:  nominal,
		Value:    value,
		UnitRate: unit,
		Date:     day,
	}, nil
}

// Currencies fetches the currency dictionary. Entries without an ISO letter
// code (historic or basket currencies) are skipped.
func (c *Client) Currencies(ctx context.Context) ([]Currency, error) {
	var doc valuta
	if err := c.fetch(ctx, dictionaryPath, nil, &doc); err != nil {
		return nil, err
	}

	out := make([]Currency, 0, len(doc.Items))
	for _, it := range doc.Items {
		iso := strings.ToUpper(strings.TrimSpace(it.ISOCharCode))
		if iso == "" {
			continue
		}
		nominal, _ := atoi(it.Nominal, 1)
		num, _ := atoi(it.ISONumCode, 0)
		out = append(out, Currency{
			ID:      it.ID,
			Name:    strings.TrimSpace(it.Name),
			EngName: strings.TrimSpace(it.EngName),
			Nominal: nominal,
			ISONum:  num,
			ISOChar: iso,
		})
	}
	if len(out) == 0 {
		return nil, backend.InvalidResponse(fmt.Errorf("currency dictionary is empty"))
	}
	return out, nil
}

// Instruments converts dictionary entries into catalog instruments.
func Instruments(currencies []Currency) []instrument.Instrument {
	out := make([]instrument.Instrument, 0, len(currencies))
	for _, cur := range currencies {
		out = append(out, instrument.Instrument{Code: cur.ISOChar, Name: cur.Name, Type: instrument.Currency})
	}
	return out
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backend.Rejected(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return backend.StatusError(resp.StatusCode)
	}

	dec := xml.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(dst); err != nil {
		if ctx.Err() != nil {
			return backend.Classify(ctx.Err())
		}
		return backend.InvalidResponse(fmt.Errorf("decoding %s: %w", path, err))
	}

	c.logger.Debug("fetched feed", "path", path)
	return nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "windows-1251", "cp1251", "win-1251":
		return charmap.Windows1251.NewDecoder().Reader(input), nil
	case "utf-8", "utf8":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}

func parseDecimal(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}

func atoi(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
