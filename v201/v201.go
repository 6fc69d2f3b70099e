// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package v201 defines the payloads of the core OCPP 2.0.1 actions, and typed
// helpers to call them on a peer.
package v201

import (
	"encoding/json"
	"time"

	"github.com/creachadair/ocpp"
)

// Version is the protocol version whose payloads this package defines.
const Version = ocpp.V201

// Action names defined by OCPP 2.0.1 that have payloads in this package.
const (
	ActionAuthorize          = "Authorize"
	ActionBootNotification   = ocpp.BootNotification
	ActionDataTransfer       = "DataTransfer"
	ActionHeartbeat          = ocpp.Heartbeat
	ActionReset              = "Reset"
	ActionStatusNotification = "StatusNotification"
)

// DateTime is a timestamp in OCPP 2.0.1 encoding: RFC 3339 in UTC, with
// fractional seconds when they are nonzero.
type DateTime struct{ time.Time }

// Now returns the current time as a DateTime.
func Now() DateTime { return DateTime{time.Now().UTC()} }

// String returns d in its wire encoding.
func (d DateTime) String() string { return d.UTC().Format(time.RFC3339Nano) }

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

// StatusInfo gives more detail about a status reported in a response.
type StatusInfo struct {
	ReasonCode     string `json:"reasonCode"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// BootReason is the reason a charging station booted.
type BootReason string

const (
	BootApplicationReset BootReason = "ApplicationReset"
	BootFirmwareUpdate   BootReason = "FirmwareUpdate"
	BootLocalReset       BootReason = "LocalReset"
	BootPowerUp          BootReason = "PowerUp"
	BootRemoteReset      BootReason = "RemoteReset"
	BootScheduledReset   BootReason = "ScheduledReset"
	BootTriggered        BootReason = "Triggered"
	BootUnknown          BootReason = "Unknown"
	BootWatchdog         BootReason = "Watchdog"
)

// Modem describes the wireless modem of a charging station.
type Modem struct {
	ICCID string `json:"iccid,omitempty"`
	IMSI  string `json:"imsi,omitempty"`
}

// ChargingStation describes the hardware of a charging station.
type ChargingStation struct {
	SerialNumber    string `json:"serialNumber,omitempty"`
	Model           string `json:"model"`
	Modem           *Modem `json:"modem,omitempty"`
	VendorName      string `json:"vendorName"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

// BootNotificationRequest is sent by a charging station after start-up.
type BootNotificationRequest struct {
	ChargingStation ChargingStation `json:"chargingStation"`
	Reason          BootReason      `json:"reason"`
}

// RegistrationStatus is the outcome of a BootNotification.
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// BootNotificationResponse reports whether the central system accepts the
// charging station, and the interval in seconds for heartbeats or retries.
type BootNotificationResponse struct {
	CurrentTime DateTime           `json:"currentTime"`
	Interval    int                `json:"interval"`
	Status      RegistrationStatus `json:"status"`
	StatusInfo  *StatusInfo        `json:"statusInfo,omitempty"`
}

// HeartbeatRequest is sent periodically by a charging station.
type HeartbeatRequest struct{}

// HeartbeatResponse reports the time of the central system.
type HeartbeatResponse struct {
	CurrentTime DateTime `json:"currentTime"`
}

// IdTokenType is the kind of an identifier.
type IdTokenType string

const (
	IdTokenCentral         IdTokenType = "Central"
	IdTokenEMAID           IdTokenType = "eMAID"
	IdTokenISO14443        IdTokenType = "ISO14443"
	IdTokenISO15693        IdTokenType = "ISO15693"
	IdTokenKeyCode         IdTokenType = "KeyCode"
	IdTokenLocal           IdTokenType = "Local"
	IdTokenMacAddress      IdTokenType = "MacAddress"
	IdTokenNoAuthorization IdTokenType = "NoAuthorization"
)

// AdditionalInfo carries an extra identifier for an IdToken.
type AdditionalInfo struct {
	AdditionalIdToken string `json:"additionalIdToken"`
	Type              string `json:"type"`
}

// IdToken identifies a user or vehicle.
type IdToken struct {
	IdToken        string           `json:"idToken"`
	Type           IdTokenType      `json:"type"`
	AdditionalInfo []AdditionalInfo `json:"additionalInfo,omitempty"`
}

// AuthorizeRequest asks the central system to check an identifier.
type AuthorizeRequest struct {
	IdToken     IdToken `json:"idToken"`
	Certificate string  `json:"certificate,omitempty"`
}

// AuthorizationStatus is the result of checking an identifier.
type AuthorizationStatus string

const (
	AuthorizationAccepted     AuthorizationStatus = "Accepted"
	AuthorizationBlocked      AuthorizationStatus = "Blocked"
	AuthorizationConcurrentTx AuthorizationStatus = "ConcurrentTx"
	AuthorizationExpired      AuthorizationStatus = "Expired"
	AuthorizationInvalid      AuthorizationStatus = "Invalid"
	AuthorizationUnknown      AuthorizationStatus = "Unknown"
)

// IdTokenInfo describes the authorization of an identifier.
type IdTokenInfo struct {
	Status              AuthorizationStatus `json:"status"`
	CacheExpiryDateTime *DateTime           `json:"cacheExpiryDateTime,omitempty"`
	ChargingPriority    *int                `json:"chargingPriority,omitempty"`
	Language1           string              `json:"language1,omitempty"`
	EvseId              []int               `json:"evseId,omitempty"`
	Language2           string              `json:"language2,omitempty"`
}

// AuthorizeResponse reports the authorization of an identifier.
type AuthorizeResponse struct {
	IdTokenInfo       IdTokenInfo `json:"idTokenInfo"`
	CertificateStatus string      `json:"certificateStatus,omitempty"`
}

// ConnectorStatus is the status of a connector.
type ConnectorStatus string

const (
	ConnectorAvailable   ConnectorStatus = "Available"
	ConnectorOccupied    ConnectorStatus = "Occupied"
	ConnectorReserved    ConnectorStatus = "Reserved"
	ConnectorUnavailable ConnectorStatus = "Unavailable"
	ConnectorFaulted     ConnectorStatus = "Faulted"
)

// StatusNotificationRequest reports a change in the status of a connector.
type StatusNotificationRequest struct {
	Timestamp       DateTime        `json:"timestamp"`
	ConnectorStatus ConnectorStatus `json:"connectorStatus"`
	EvseId          int             `json:"evseId"`
	ConnectorId     int             `json:"connectorId"`
}

// StatusNotificationResponse is empty.
type StatusNotificationResponse struct{}

// DataTransferRequest carries vendor-specific data in either direction.
// Data may be any JSON value.
type DataTransferRequest struct {
	MessageId string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	VendorId  string          `json:"vendorId"`
}

// DataTransferStatus is the outcome of a vendor-specific data transfer.
type DataTransferStatus string

const (
	DataTransferAccepted         DataTransferStatus = "Accepted"
	DataTransferRejected         DataTransferStatus = "Rejected"
	DataTransferUnknownMessageId DataTransferStatus = "UnknownMessageId"
	DataTransferUnknownVendorId  DataTransferStatus = "UnknownVendorId"
)

// DataTransferResponse is the reply to a DataTransferRequest.
type DataTransferResponse struct {
	Status     DataTransferStatus `json:"status"`
	StatusInfo *StatusInfo        `json:"statusInfo,omitempty"`
	Data       json.RawMessage    `json:"data,omitempty"`
}

// ResetType selects when a charging station resets.
type ResetType string

const (
	ResetImmediate ResetType = "Immediate"
	ResetOnIdle    ResetType = "OnIdle"
)

// ResetRequest is sent by the central system to reset a charging station,
// or one EVSE of it.
type ResetRequest struct {
	Type   ResetType `json:"type"`
	EvseId *int      `json:"evseId,omitempty"`
}

// ResetStatus reports whether a charging station will reset.
type ResetStatus string

const (
	ResetAccepted  ResetStatus = "Accepted"
	ResetRejected  ResetStatus = "Rejected"
	ResetScheduled ResetStatus = "Scheduled"
)

// ResetResponse is the reply to a ResetRequest.
type ResetResponse struct {
	Status     ResetStatus `json:"status"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty"`
}
