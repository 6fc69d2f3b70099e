// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package v16_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/peers"
	"github.com/creachadair/ocpp/schema"
	"github.com/creachadair/ocpp/v16"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

var when = time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

func TestDateTime(t *testing.T) {
	d := v16.DateTime{Time: when}
	got, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if want := `"2026-03-14T15:09:26Z"`; string(got) != want {
		t.Errorf("Marshal: got %s, want %s", got, want)
	}

	// Non-UTC zones are converted.
	est := time.FixedZone("EST", -5*60*60)
	if got := (v16.DateTime{Time: when.In(est)}).String(); got != "2026-03-14T15:09:26Z" {
		t.Errorf("String: got %q", got)
	}

	for _, in := range []string{
		`"2026-03-14T15:09:26Z"`,
		`"2026-03-14T15:09:26.535Z"`,
		`"2026-03-14T10:09:26-05:00"`,
	} {
		var d v16.DateTime
		if err := json.Unmarshal([]byte(in), &d); err != nil {
			t.Errorf("Unmarshal %s: %v", in, err)
		} else if !d.Truncate(time.Second).Equal(when.Truncate(time.Second)) {
			t.Errorf("Unmarshal %s: got %v, want %v", in, d, when)
		}
	}
	for _, bad := range []string{`17`, `"yesterday"`, `"2026-03-14"`} {
		var d v16.DateTime
		if err := json.Unmarshal([]byte(bad), &d); err == nil {
			t.Errorf("Unmarshal %s: got %v, want error", bad, d)
		}
	}
}

// The encodings of typed payloads satisfy the published schemas.
func TestPayloadSchemas(t *testing.T) {
	val, err := schema.For(ocpp.V16)
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	now := v16.DateTime{Time: when}
	reservation := 3
	tests := []struct {
		action   string
		req, rsp any
	}{
		{v16.ActionBootNotification,
			v16.BootNotificationRequest{ChargePointVendor: "VendorX", ChargePointModel: "SingleSocketCharger", FirmwareVersion: "1.0.2"},
			v16.BootNotificationResponse{Status: v16.RegistrationAccepted, CurrentTime: now, Interval: 300}},
		{v16.ActionHeartbeat, v16.HeartbeatRequest{}, v16.HeartbeatResponse{CurrentTime: now}},
		{v16.ActionAuthorize,
			v16.AuthorizeRequest{IdTag: "B4A63CDF"},
			v16.AuthorizeResponse{IdTagInfo: v16.IdTagInfo{Status: v16.AuthorizationAccepted, ExpiryDate: &now}}},
		{v16.ActionStatusNotification,
			v16.StatusNotificationRequest{ConnectorId: 1, ErrorCode: v16.NoError, Status: v16.StatusCharging, Timestamp: &now},
			v16.StatusNotificationResponse{}},
		{v16.ActionStartTransaction,
			v16.StartTransactionRequest{ConnectorId: 1, IdTag: "B4A63CDF", MeterStart: 1200, ReservationId: &reservation, Timestamp: now},
			v16.StartTransactionResponse{IdTagInfo: v16.IdTagInfo{Status: v16.AuthorizationAccepted}, TransactionId: 11}},
		{v16.ActionStopTransaction,
			v16.StopTransactionRequest{MeterStop: 9000, Timestamp: now, TransactionId: 11, Reason: v16.ReasonEVDisconnected},
			v16.StopTransactionResponse{}},
		{v16.ActionDataTransfer,
			v16.DataTransferRequest{VendorId: "com.example", MessageId: "meter", Data: "42"},
			v16.DataTransferResponse{Status: v16.DataTransferUnknownVendorId}},
		{v16.ActionReset, v16.ResetRequest{Type: v16.ResetSoft}, v16.ResetResponse{Status: v16.ResetAccepted}},
	}
	for _, tc := range tests {
		req, err := json.Marshal(tc.req)
		if err != nil {
			t.Fatalf("Marshal %T: %v", tc.req, err)
		}
		if err := val.ValidateRequest(tc.action, req); err != nil {
			t.Errorf("%s request %s: %v", tc.action, req, err)
		}
		rsp, err := json.Marshal(tc.rsp)
		if err != nil {
			t.Fatalf("Marshal %T: %v", tc.rsp, err)
		}
		if err := val.ValidateResponse(tc.action, rsp); err != nil {
			t.Errorf("%s response %s: %v", tc.action, rsp, err)
		}
	}
}

func TestCalls(t *testing.T) {
	defer leaktest.Check(t)()

	var reset []v16.ResetType
	var status []v16.ChargePointStatus
	central := v16.Handlers{
		BootNotification: func(_ context.Context, req *v16.BootNotificationRequest) (*v16.BootNotificationResponse, error) {
			return &v16.BootNotificationResponse{
				Status:      v16.RegistrationAccepted,
				CurrentTime: v16.DateTime{Time: when},
				Interval:    60,
			}, nil
		},
		Heartbeat: func(context.Context) (*v16.HeartbeatResponse, error) {
			return &v16.HeartbeatResponse{CurrentTime: v16.DateTime{Time: when}}, nil
		},
		Authorize: func(_ context.Context, req *v16.AuthorizeRequest) (*v16.AuthorizeResponse, error) {
			status := v16.AuthorizationInvalid
			if req.IdTag == "B4A63CDF" {
				status = v16.AuthorizationAccepted
			}
			return &v16.AuthorizeResponse{IdTagInfo: v16.IdTagInfo{Status: status}}, nil
		},
		StatusNotification: func(_ context.Context, req *v16.StatusNotificationRequest) (*v16.StatusNotificationResponse, error) {
			status = append(status, req.Status)
			return &v16.StatusNotificationResponse{}, nil
		},
		StopTransaction: func(_ context.Context, req *v16.StopTransactionRequest) (*v16.StopTransactionResponse, error) {
			if req.TransactionId != 7 {
				return nil, ocpp.Errorf(ocpp.PropertyConstraintViolation, "unknown transaction %d", req.TransactionId)
			}
			return &v16.StopTransactionResponse{IdTagInfo: &v16.IdTagInfo{Status: v16.AuthorizationAccepted}}, nil
		},
		DataTransfer: func(context.Context, *v16.DataTransferRequest) (*v16.DataTransferResponse, error) {
			return nil, ocpp.Errorf(ocpp.NotSupported, "no vendor extensions")
		},
	}
	station := v16.Handlers{
		Reset: func(_ context.Context, req *v16.ResetRequest) (*v16.ResetResponse, error) {
			reset = append(reset, req.Type)
			return &v16.ResetResponse{Status: v16.ResetAccepted}, nil
		},
	}
	creg, _ := schema.Register(central.Register(ocpp.NewRegistry()), ocpp.V16)
	sreg, _ := schema.Register(station.Register(ocpp.NewRegistry()), ocpp.V16)

	hs := ocpp.Handshake{Identity: "CP001", Version: ocpp.V16}
	loc := peers.NewLocal(hs, ocpp.NewPeer(ocpp.CentralSystem, creg), ocpp.NewPeer(ocpp.ChargePoint, sreg))
	defer loc.Stop()
	ctx := context.Background()

	boot, err := v16.BootNotification(ctx, loc.Station, &v16.BootNotificationRequest{
		ChargePointVendor: "VendorX",
		ChargePointModel:  "SingleSocketCharger",
	})
	if err != nil {
		t.Fatalf("BootNotification: %v", err)
	}
	if diff := cmp.Diff(&v16.BootNotificationResponse{
		Status:      v16.RegistrationAccepted,
		CurrentTime: v16.DateTime{Time: when.Truncate(time.Second)},
		Interval:    60,
	}, boot); diff != "" {
		t.Errorf("BootNotification (-want, +got):\n%s", diff)
	}
	if got := loc.Station.State(); got != ocpp.StateAccepted {
		t.Errorf("State: got %v, want %v", got, ocpp.StateAccepted)
	}

	hb, err := v16.Heartbeat(ctx, loc.Station)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	} else if !hb.CurrentTime.Equal(when.Truncate(time.Second)) {
		t.Errorf("Heartbeat: got %v, want %v", hb.CurrentTime, when)
	}

	for tag, want := range map[string]v16.AuthorizationStatus{
		"B4A63CDF": v16.AuthorizationAccepted,
		"00000000": v16.AuthorizationInvalid,
	} {
		rsp, err := v16.Authorize(ctx, loc.Station, &v16.AuthorizeRequest{IdTag: tag})
		if err != nil {
			t.Errorf("Authorize %q: %v", tag, err)
		} else if rsp.IdTagInfo.Status != want {
			t.Errorf("Authorize %q: got %v, want %v", tag, rsp.IdTagInfo.Status, want)
		}
	}

	// The schema rejects an oversized tag before it is sent.
	_, err = v16.Authorize(ctx, loc.Station, &v16.AuthorizeRequest{IdTag: "0123456789abcdef01234"})
	var ce *ocpp.CallError
	if !errors.As(err, &ce) || ce.Message != nil || ce.ErrorCode() != ocpp.PropertyConstraintViolation {
		t.Errorf("Authorize long tag: got %v, want local PropertyConstraintViolation", err)
	}

	for _, st := range []v16.ChargePointStatus{v16.StatusAvailable, v16.StatusCharging} {
		if _, err := v16.StatusNotification(ctx, loc.Station, &v16.StatusNotificationRequest{
			ConnectorId: 1, ErrorCode: v16.NoError, Status: st,
		}); err != nil {
			t.Errorf("StatusNotification %v: %v", st, err)
		}
	}
	if diff := cmp.Diff([]v16.ChargePointStatus{v16.StatusAvailable, v16.StatusCharging}, status); diff != "" {
		t.Errorf("StatusNotification (-want, +got):\n%s", diff)
	}

	stop, err := v16.StopTransaction(ctx, loc.Station, &v16.StopTransactionRequest{
		IdTag: "B4A63CDF", MeterStop: 1200, Timestamp: v16.DateTime{Time: when}, TransactionId: 7,
	})
	if err != nil {
		t.Errorf("StopTransaction: %v", err)
	} else if stop.IdTagInfo == nil || stop.IdTagInfo.Status != v16.AuthorizationAccepted {
		t.Errorf("StopTransaction: got %+v, want accepted", stop)
	}

	_, err = v16.DataTransfer(ctx, loc.Station, &v16.DataTransferRequest{VendorId: "com.example"})
	if !errors.As(err, &ce) || ce.Code != ocpp.NotSupported {
		t.Errorf("DataTransfer: got %v, want NotSupported", err)
	}

	// Calls in the other direction.
	if rsp, err := v16.Reset(ctx, loc.Central, &v16.ResetRequest{Type: v16.ResetHard}); err != nil {
		t.Errorf("Reset: %v", err)
	} else if rsp.Status != v16.ResetAccepted {
		t.Errorf("Reset: got %v, want %v", rsp.Status, v16.ResetAccepted)
	}
	if diff := cmp.Diff([]v16.ResetType{v16.ResetHard}, reset); diff != "" {
		t.Errorf("Reset calls (-want, +got):\n%s", diff)
	}

	// Unhandled actions are not implemented.
	_, err = v16.StartTransaction(ctx, loc.Station, &v16.StartTransactionRequest{
		ConnectorId: 1, IdTag: "B4A63CDF", Timestamp: v16.DateTime{Time: when},
	})
	if !errors.As(err, &ce) || ce.Code != ocpp.NotImplemented {
		t.Errorf("StartTransaction: got %v, want NotImplemented", err)
	}
}
