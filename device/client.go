package device

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/dice-ticker/dice-net/logger"
	"github.com/dice-ticker/dice-net/transport"
	"github.com/valyala/bytebufferpool"
)

const (
	// maxResponseSize bounds the size of a buffered price response.
	maxResponseSize = 16 * 1024

	readChunkSize = 2048

	// openDayBatch is the number of symbols of a single opening price request.
	openDayBatch = 6

	// openDayAttempts is the number of attempts of a single opening price request.
	openDayAttempts = 4

	// transientRetries bounds the retries of a transport that keeps reporting a
	// transient result.
	transientRetries = 1000
	transientDelay   = time.Millisecond
)

var (
	// ErrNoConnection indicates that no connection to the price API could be made.
	ErrNoConnection = errors.New("price api: no connection")

	// ErrRequest indicates that the request could not be built.
	ErrRequest = errors.New("price api: invalid request")

	// ErrWrite indicates that the request could not be sent.
	ErrWrite = errors.New("price api: write failed")

	// ErrRead indicates that no complete response was received.
	ErrRead = errors.New("price api: read failed")

	// ErrParse indicates a response that is not a valid price document.
	ErrParse = errors.New("price api: cannot parse response")
)

// PriceClient fetches prices from the price API over a transport.Transport.
type PriceClient struct {
	tr     transport.Transport
	remote netip.AddrPort
	host   string
	logger logger.Logger
	pool   bytebufferpool.Pool
}

// NewPriceClient creates a PriceClient sending requests for host to remote over tr.
func NewPriceClient(tr transport.Transport, remote netip.AddrPort, host string, l logger.Logger) *PriceClient {
	return &PriceClient{
		tr:     tr,
		remote: remote,
		host:   host,
		logger: l.With("component", "price_client"),
	}
}

// CurrentPrices returns the current price of every symbol in currency.
func (c *PriceClient) CurrentPrices(symbols []string, currency string) (map[string]float64, error) {
	req, err := c.buildRequest("/data/pricemulti", symbols, currency)
	if err != nil {
		return nil, err
	}

	body, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}

	var doc map[string]map[string]float64
	if err := unmarshalTrimmed(body, &doc); err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(doc))
	for sym, quotes := range doc {
		if price, ok := quotes[currency]; ok {
			prices[sym] = price
		}
	}

	return prices, nil
}

// OpenDayPrices returns the opening price of the day of every symbol in currency. The
// symbols are requested in batches; every batch is attempted up to four times.
func (c *PriceClient) OpenDayPrices(symbols []string, currency string) (map[string]float64, error) {
	prices := make(map[string]float64, len(symbols))

	for start := 0; start < len(symbols); start += openDayBatch {
		end := min(start+openDayBatch, len(symbols))

		req, err := c.buildRequest("/data/pricemultifull", symbols[start:end], currency)
		if err != nil {
			return nil, err
		}

		var body []byte
		for attempt := range openDayAttempts {
			body, err = c.roundTrip(req)
			if err == nil || errors.Is(err, ErrNoConnection) {
				break
			}
			c.logger.Debug("open day request failed", "attempt", attempt+1, "error", err)
		}
		if err != nil {
			return nil, ErrNoConnection
		}

		var doc struct {
			RAW map[string]map[string]struct {
				OPENDAY float64
			}
		}
		if err := unmarshalTrimmed(body, &doc); err != nil {
			return nil, err
		}

		for sym, quotes := range doc.RAW {
			if q, ok := quotes[currency]; ok {
				prices[sym] = q.OPENDAY
			}
		}
	}

	return prices, nil
}

func (c *PriceClient) buildRequest(path string, symbols []string, currency string) ([]byte, error) {
	if len(symbols) == 0 || currency == "" {
		return nil, ErrRequest
	}

	var b strings.Builder
	b.WriteString("GET ")
	b.WriteString(path)
	b.WriteString("?fsyms=")
	for _, sym := range symbols {
		b.WriteString(sym)
		b.WriteByte(',')
	}
	b.WriteString("&tsyms=")
	b.WriteString(currency)
	b.WriteString(" HTTP/1.1\r\nHost: ")
	b.WriteString(c.host)
	b.WriteString("\r\n\r\n")

	return []byte(b.String()), nil
}

// roundTrip opens a connection, sends req and returns the body of the response.
func (c *PriceClient) roundTrip(req []byte) ([]byte, error) {
	h, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.tr.Close(h); err != nil {
			c.logger.Debug("close failed", "error", err)
		}
	}()

	if err := c.writeAll(h, req); err != nil {
		return nil, err
	}

	buf := c.pool.Get()
	defer c.pool.Put(buf)

	return c.readResponse(h, buf)
}

func (c *PriceClient) connect() (transport.Handle, error) {
	h, err := c.tr.Open(transport.ModeNonBlocking)
	if err != nil {
		c.logger.Debug("open failed", "error", err)
		return h, ErrNoConnection
	}

	h, err = c.tr.Connect(h, c.remote)
	if err != nil {
		c.logger.Debug("connect failed", "remote", c.remote, "error", err)
		// a refused connect has already released the handle
		if !errors.Is(err, transport.ErrConnectionRefused) && !errors.Is(err, transport.ErrNoIPAddress) {
			_ = c.tr.Close(h)
		}

		return h, ErrNoConnection
	}

	return h, nil
}

func (c *PriceClient) writeAll(h transport.Handle, p []byte) error {
	retries := 0
	for len(p) > 0 {
		n, err := c.tr.Write(h, p)
		p = p[n:]
		if err == nil {
			continue
		}
		if !transport.IsTransient(err) || retries >= transientRetries {
			c.logger.Debug("write failed", "error", err)
			return ErrWrite
		}
		retries++
		time.Sleep(transientDelay)
	}

	return nil
}

// readResponse reads until a complete response was received or the peer closed.
func (c *PriceClient) readResponse(h transport.Handle, buf *bytebufferpool.ByteBuffer) ([]byte, error) {
	chunk := make([]byte, readChunkSize)
	retries := 0

	for {
		n, err := c.tr.Read(h, chunk)
		if err != nil {
			if !transport.IsTransient(err) || retries >= transientRetries {
				c.logger.Debug("read failed", "received", buf.Len(), "error", err)
				return nil, ErrRead
			}
			retries++
			time.Sleep(transientDelay)

			continue
		}

		if n == 0 {
			return parseResponse(buf.B, true)
		}

		if buf.Len()+n > maxResponseSize {
			return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrRead, maxResponseSize)
		}
		_, _ = buf.Write(chunk[:n])

		if body, err := parseResponse(buf.B, false); err == nil {
			return body, nil
		} else if !errors.Is(err, errIncomplete) {
			return nil, err
		}
	}
}

var (
	errIncomplete = errors.New("incomplete response")
	headerEnd     = []byte("\r\n\r\n")
)

// parseResponse extracts the body of a successful HTTP response. A response delimited by
// the connection close is only complete once closed is set.
func parseResponse(raw []byte, closed bool) ([]byte, error) {
	if !bytes.Contains(raw, headerEnd) {
		if closed {
			return nil, fmt.Errorf("%w: connection closed after %d bytes", ErrRead, len(raw))
		}

		return nil, errIncomplete
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		if !closed && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			return nil, errIncomplete
		}

		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer resp.Body.Close()

	if !closed && resp.ContentLength < 0 && len(resp.TransferEncoding) == 0 {
		return nil, errIncomplete
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if !closed && errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errIncomplete
		}

		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRead, resp.StatusCode)
	}

	return body, nil
}

// unmarshalTrimmed decodes the JSON object between the first '{' and the last '}' of body.
func unmarshalTrimmed(body []byte, v any) error {
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return ErrParse
	}

	if err := json.Unmarshal(body[start:end+1], v); err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}

	return nil
}
