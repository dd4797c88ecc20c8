// Package client holds the appointment service's outbound calls to the
// doctor-inventory service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/inventory"
)

// InventoryClient calls the slot ledger and doctor profile endpoints. Every
// call is bounded by the client timeout and never retried here.
type InventoryClient struct {
	baseURL string
	http    *http.Client
}

func NewInventoryClient(baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *InventoryClient) Reserve(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error) {
	var out inventory.SlotView
	if err := c.do(ctx, http.MethodPut, slotPath(slotID, "reserve", doctorID, appointmentID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *InventoryClient) Release(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error) {
	var out inventory.SlotView
	if err := c.do(ctx, http.MethodPut, slotPath(slotID, "release", doctorID, appointmentID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *InventoryClient) GetDoctor(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	var out inventory.DoctorView
	if err := c.do(ctx, http.MethodGet, "/doctors/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &appointment.Doctor{
		ID:              out.ID,
		Name:            out.Name,
		Specialization:  out.Specialization,
		ConsultationFee: out.ConsultationFee,
	}, nil
}

func slotPath(slotID uuid.UUID, action string, doctorID, appointmentID uuid.UUID) string {
	q := url.Values{}
	q.Set("doctor_id", doctorID.String())
	q.Set("appointment_id", appointmentID.String())
	return fmt.Sprintf("/slots/%s/%s?%s", slotID, action, q.Encode())
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (c *InventoryClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "build inventory request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// timeouts, refused connections and cancelled contexts alike
		return apperr.Wrap(apperr.UpstreamUnavailable, err, "inventory service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, err, "read inventory response")
	}

	if resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, err, "decode inventory response")
	}
	return nil
}

func responseError(status int, body []byte) error {
	var eb errorBody
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Details != "":
			msg = eb.Details
		case eb.Error != "":
			msg = eb.Error
		}
	}
	return apperr.New(apperr.KindFromHTTPStatus(status), msg)
}
