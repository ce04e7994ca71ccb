package features

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/cucumber/godog"

	"psd2gateway/internal/sca/api"
	"psd2gateway/internal/sca/application"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/infrastructure/memory"
	"psd2gateway/internal/sca/spi/mockbank"
)

type contractState struct {
	server   *httptest.Server
	response *http.Response
}

func InitializeScenario(sc *godog.ScenarioContext) {
	state := &contractState{}

	sc.Step(`^the gateway is running$`, state.theGatewayIsRunning)
	sc.Step(`^I request "([A-Z]+)" "([^"]*)"$`, state.iRequest)
	sc.Step(`^the response status should be (\d+)$`, state.theResponseStatusShouldBe)
	sc.Step(`^the response should carry the TPP message "([^"]*)"$`, state.theResponseShouldCarryTheTppMessage)

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if state.server != nil {
			state.server.Close()
		}
		if state.response != nil {
			state.response.Body.Close()
		}
		return ctx, nil
	})
}

func (s *contractState) theGatewayIsRunning() error {
	bank := mockbank.New(mockbank.Options{Password: "12345", Tan: "123456"})
	engine, err := application.NewEngine(memory.NewDataStore(), application.Adapters{
		Payments:      bank.Payments(),
		Cancellations: bank.Cancellations(),
		Consents:      bank.Consents(),
	}, application.Settings{
		Approaches:        []domain.ScaApproach{domain.ScaApproachEmbedded},
		PaymentExpiration: 24 * time.Hour,
		ConsentExpiration: 24 * time.Hour,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	api.NewHandler(engine).RegisterRoutes(mux)
	s.server = httptest.NewServer(mux)
	return nil
}

func (s *contractState) iRequest(method, path string) error {
	if s.server == nil {
		return fmt.Errorf("server not running")
	}
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", path, err)
	}
	s.response = resp
	return nil
}

func (s *contractState) theResponseStatusShouldBe(expected int) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if s.response.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d", expected, s.response.StatusCode)
	}
	return nil
}

func (s *contractState) theResponseShouldCarryTheTppMessage(code string) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(s.response.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding error body: %w", err)
	}
	for _, m := range body.TppMessages {
		if m.Code == code {
			return nil
		}
	}
	return fmt.Errorf("expected tpp message %s, got %+v", code, body.TppMessages)
}
