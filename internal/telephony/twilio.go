package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig holds credentials for the Twilio REST adapter.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the API host (tests); empty means the Twilio API.
	BaseURL string

	Timeout time.Duration
}

// TwilioProvider implements Provider against the Twilio REST API with plain
// net/http form posts; no SDK.
type TwilioProvider struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TwilioProvider{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) baseURL() string {
	if p.cfg.BaseURL != "" {
		return p.cfg.BaseURL
	}
	return "https://api.twilio.com"
}

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", p.baseURL(), p.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: twilio health check status %d", resp.StatusCode)
	}
	return nil
}

// Transfer redirects the live call by posting replacement TwiML.
func (p *TwilioProvider) Transfer(ctx context.Context, req TransferRequest) error {
	twiml, err := RenderTwiML(Answer{Action: AnswerTransfer, TransferTo: req.Target})
	if err != nil {
		return err
	}
	form := url.Values{"Twiml": {twiml}}
	return p.updateCall(ctx, req.ProviderCallID, form)
}

// Hangup completes the live call.
func (p *TwilioProvider) Hangup(ctx context.Context, req HangupRequest) error {
	form := url.Values{"Status": {"completed"}}
	return p.updateCall(ctx, req.ProviderCallID, form)
}

func (p *TwilioProvider) updateCall(ctx context.Context, callSID string, form url.Values) error {
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", p.baseURL(), p.cfg.AccountSID, callSID)
	status, body, err := p.postForm(ctx, u, form)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrCallGone
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("telephony: twilio call update status %d: %s", status, body)
	}
	return nil
}

func (p *TwilioProvider) SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error) {
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL(), p.cfg.AccountSID)
	form := url.Values{
		"From": {req.From},
		"To":   {req.To},
		"Body": {req.Body},
	}
	status, body, err := p.postForm(ctx, u, form)
	if err != nil {
		return SMSResult{}, err
	}
	if status < 200 || status > 299 {
		return SMSResult{}, fmt.Errorf("telephony: twilio sms status %d: %s", status, body)
	}
	var out struct {
		SID string `json:"sid"`
	}
	// Sid extraction is best-effort; a send that returned 2xx succeeded.
	_ = json.Unmarshal([]byte(body), &out)
	return SMSResult{ProviderMessageID: out.SID}, nil
}

func (p *TwilioProvider) postForm(ctx context.Context, u string, form url.Values) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("telephony: twilio request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}
