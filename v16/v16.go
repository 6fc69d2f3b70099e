// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package v16 defines the payloads of the core OCPP 1.6 actions, and typed
// helpers to call them on a peer.
//
// Timestamps are encoded in UTC without fractional seconds, as
// 2006-01-02T15:04:05Z. Either form is accepted when decoding.
package v16

import (
	"encoding/json"
	"time"

	"github.com/creachadair/ocpp"
)

// Version is the protocol version whose payloads this package defines.
const Version = ocpp.V16

// Action names defined by OCPP 1.6 that have payloads in this package.
const (
	ActionAuthorize          = "Authorize"
	ActionBootNotification   = ocpp.BootNotification
	ActionDataTransfer       = "DataTransfer"
	ActionHeartbeat          = ocpp.Heartbeat
	ActionReset              = "Reset"
	ActionStartTransaction   = "StartTransaction"
	ActionStatusNotification = "StatusNotification"
	ActionStopTransaction    = "StopTransaction"
)

// dateTimeLayout is the encoding of a 1.6 timestamp.
const dateTimeLayout = "2006-01-02T15:04:05Z"

// DateTime is a timestamp in OCPP 1.6 encoding.
type DateTime struct{ time.Time }

// Now returns the current time as a DateTime.
func Now() DateTime { return DateTime{time.Now().UTC().Truncate(time.Second)} }

// String returns d in its wire encoding.
func (d DateTime) String() string { return d.UTC().Format(dateTimeLayout) }

// MarshalJSON implements json.Marshaler.
func (d DateTime) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *DateTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	d.Time = t.UTC()
	return nil
}

// RegistrationStatus is the outcome of a BootNotification.
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// BootNotificationRequest is sent by a charge point after start-up.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	ICCID                   string `json:"iccid,omitempty"`
	IMSI                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

// BootNotificationResponse reports whether the central system accepts the
// charge point, and the interval in seconds it should use for heartbeats
// (when accepted) or before retrying the boot (otherwise).
type BootNotificationResponse struct {
	Status      RegistrationStatus `json:"status"`
	CurrentTime DateTime           `json:"currentTime"`
	Interval    int                `json:"interval"`
}

// HeartbeatRequest is sent periodically by a charge point.
type HeartbeatRequest struct{}

// HeartbeatResponse reports the time of the central system.
type HeartbeatResponse struct {
	CurrentTime DateTime `json:"currentTime"`
}

// AuthorizationStatus is the result of checking an identifier.
type AuthorizationStatus string

const (
	AuthorizationAccepted     AuthorizationStatus = "Accepted"
	AuthorizationBlocked      AuthorizationStatus = "Blocked"
	AuthorizationExpired      AuthorizationStatus = "Expired"
	AuthorizationInvalid      AuthorizationStatus = "Invalid"
	AuthorizationConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// IdTagInfo describes the authorization of an identifier.
type IdTagInfo struct {
	Status      AuthorizationStatus `json:"status"`
	ExpiryDate  *DateTime           `json:"expiryDate,omitempty"`
	ParentIdTag string              `json:"parentIdTag,omitempty"`
}

// AuthorizeRequest asks the central system to check an identifier.
type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

// AuthorizeResponse reports the authorization of an identifier.
type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// ChargePointStatus is the status of a connector.
type ChargePointStatus string

const (
	StatusAvailable     ChargePointStatus = "Available"
	StatusPreparing     ChargePointStatus = "Preparing"
	StatusCharging      ChargePointStatus = "Charging"
	StatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	StatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	StatusFinishing     ChargePointStatus = "Finishing"
	StatusReserved      ChargePointStatus = "Reserved"
	StatusUnavailable   ChargePointStatus = "Unavailable"
	StatusFaulted       ChargePointStatus = "Faulted"
)

// ChargePointErrorCode reports a fault of a connector. The value NoError
// means there is none.
type ChargePointErrorCode string

const (
	NoError    ChargePointErrorCode = "NoError"
	OtherError ChargePointErrorCode = "OtherError"
)

// StatusNotificationRequest reports a change in the status of a connector.
// Connector 0 is the charge point as a whole.
type StatusNotificationRequest struct {
	ConnectorId     int                  `json:"connectorId"`
	ErrorCode       ChargePointErrorCode `json:"errorCode"`
	Status          ChargePointStatus    `json:"status"`
	Info            string               `json:"info,omitempty"`
	Timestamp       *DateTime            `json:"timestamp,omitempty"`
	VendorId        string               `json:"vendorId,omitempty"`
	VendorErrorCode string               `json:"vendorErrorCode,omitempty"`
}

// StatusNotificationResponse is empty.
type StatusNotificationResponse struct{}

// StartTransactionRequest reports the start of a transaction on a connector.
type StartTransactionRequest struct {
	ConnectorId   int      `json:"connectorId"`
	IdTag         string   `json:"idTag"`
	MeterStart    int      `json:"meterStart"` // Wh
	ReservationId *int     `json:"reservationId,omitempty"`
	Timestamp     DateTime `json:"timestamp"`
}

// StartTransactionResponse assigns an id to a new transaction.
type StartTransactionResponse struct {
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
	TransactionId int       `json:"transactionId"`
}

// Reason is the reason a transaction stopped.
type Reason string

const (
	ReasonEVDisconnected Reason = "EVDisconnected"
	ReasonLocal          Reason = "Local"
	ReasonOther          Reason = "Other"
	ReasonPowerLoss      Reason = "PowerLoss"
	ReasonRemote         Reason = "Remote"
)

// StopTransactionRequest reports the end of a transaction.
type StopTransactionRequest struct {
	IdTag           string            `json:"idTag,omitempty"`
	MeterStop       int               `json:"meterStop"` // Wh
	Timestamp       DateTime          `json:"timestamp"`
	TransactionId   int               `json:"transactionId"`
	Reason          Reason            `json:"reason,omitempty"`
	TransactionData []json.RawMessage `json:"transactionData,omitempty"`
}

// StopTransactionResponse reports the authorization of the identifier that
// stopped the transaction, if one was given.
type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// DataTransferStatus is the outcome of a vendor-specific data transfer.
type DataTransferStatus string

const (
	DataTransferAccepted         DataTransferStatus = "Accepted"
	DataTransferRejected         DataTransferStatus = "Rejected"
	DataTransferUnknownMessageId DataTransferStatus = "UnknownMessageId"
	DataTransferUnknownVendorId  DataTransferStatus = "UnknownVendorId"
)

// DataTransferRequest carries vendor-specific data in either direction.
type DataTransferRequest struct {
	VendorId  string `json:"vendorId"`
	MessageId string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

// DataTransferResponse is the reply to a DataTransferRequest.
type DataTransferResponse struct {
	Status DataTransferStatus `json:"status"`
	Data   string             `json:"data,omitempty"`
}

// ResetType selects how a charge point resets.
type ResetType string

const (
	ResetHard ResetType = "Hard"
	ResetSoft ResetType = "Soft"
)

// ResetRequest is sent by the central system to reset a charge point.
type ResetRequest struct {
	Type ResetType `json:"type"`
}

// ResetStatus reports whether a charge point will reset.
type ResetStatus string

const (
	ResetAccepted ResetStatus = "Accepted"
	ResetRejected ResetStatus = "Rejected"
)

// ResetResponse is the reply to a ResetRequest.
type ResetResponse struct {
	Status ResetStatus `json:"status"`
}
