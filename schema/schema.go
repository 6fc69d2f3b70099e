// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package schema implements ocpp.Validator using the JSON schemas published
// for the request and response payloads of each OCPP action.
//
// The schemas for a version are compiled on first use and shared. Actions
// without a schema are not checked.
//
// Example:
//
//	v, err := schema.For(ocpp.V16)
//	if err != nil {
//	   log.Fatal(err)
//	}
//	reg := ocpp.NewRegistry().SetValidator(ocpp.V16, v)
package schema

import (
	"cmp"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/creachadair/ocpp"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed v16/*.json v201/*.json
var schemaFS embed.FS

// maxReported is the number of violations listed in the details of an error.
const maxReported = 8

// A Validator checks OCPP payloads against the JSON schemas for one protocol
// version. It satisfies the ocpp.Validator interface.
type Validator struct {
	version ocpp.Version
	req     map[string]*gojsonschema.Schema
	rsp     map[string]*gojsonschema.Schema
}

var validators = map[ocpp.Version]func() (*Validator, error){
	ocpp.V16:  sync.OnceValues(func() (*Validator, error) { return load(ocpp.V16, "v16") }),
	ocpp.V201: sync.OnceValues(func() (*Validator, error) { return load(ocpp.V201, "v201") }),
}

// For returns the validator for the schemas of protocol version v.
func For(v ocpp.Version) (*Validator, error) {
	f, ok := validators[v]
	if !ok {
		return nil, fmt.Errorf("no schemas for protocol version %q", v)
	}
	return f()
}

// Register installs the validators for each of the given versions in reg,
// and returns reg. If no versions are given, all supported versions are
// installed.
func Register(reg *ocpp.Registry, vs ...ocpp.Version) (*ocpp.Registry, error) {
	if len(vs) == 0 {
		vs = ocpp.Versions
	}
	for _, v := range vs {
		val, err := For(v)
		if err != nil {
			return nil, err
		}
		reg.SetValidator(v, val)
	}
	return reg, nil
}

// load compiles the schemas in the named directory of schemaFS.
// Request schemas are named for their action, optionally followed by
// "Request"; response schemas add the suffix "Response".
func load(v ocpp.Version, dir string) (*Validator, error) {
	out := &Validator{
		version: v,
		req:     make(map[string]*gojsonschema.Schema),
		rsp:     make(map[string]*gojsonschema.Schema),
	}
	names, err := fs.Glob(schemaFS, path.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
		base := strings.TrimSuffix(path.Base(name), ".json")
		if action, ok := strings.CutSuffix(base, "Response"); ok {
			out.rsp[action] = s
		} else {
			out.req[strings.TrimSuffix(base, "Request")] = s
		}
	}
	return out, nil
}

// Version reports the protocol version whose schemas v checks.
func (v *Validator) Version() ocpp.Version { return v.version }

// Actions returns the names of the actions that have request schemas, in
// sorted order.
func (v *Validator) Actions() []string {
	out := make([]string, 0, len(v.req))
	for action := range v.req {
		out = append(out, action)
	}
	slices.Sort(out)
	return out
}

// ValidateRequest checks payload against the request schema for action.
// It satisfies part of the ocpp.Validator interface.
func (v *Validator) ValidateRequest(action string, payload json.RawMessage) error {
	return check(v.req[action], action+" request", payload)
}

// ValidateResponse checks payload against the response schema for action.
// It satisfies part of the ocpp.Validator interface.
func (v *Validator) ValidateResponse(action string, payload json.RawMessage) error {
	return check(v.rsp[action], action+" response", payload)
}

func check(s *gojsonschema.Schema, what string, payload json.RawMessage) error {
	if s == nil {
		return nil
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return ocpp.Errorf(ocpp.FormationViolation, "%s: %v", what, err)
	} else if res.Valid() {
		return nil
	}
	return violation(what, res.Errors())
}

// violation constructs an *ocpp.Error describing errs. The error code is
// chosen from the most specific violation reported.
func violation(what string, errs []gojsonschema.ResultError) error {
	slices.SortFunc(errs, func(a, b gojsonschema.ResultError) int {
		return cmp.Or(
			cmp.Compare(rank(a.Type()), rank(b.Type())),
			cmp.Compare(a.Field(), b.Field()),
			cmp.Compare(a.Type(), b.Type()),
		)
	})
	var list []string
	for _, e := range errs[:min(len(errs), maxReported)] {
		list = append(list, e.String())
	}
	return &ocpp.Error{
		Code:        codeFor(errs[0].Type()),
		Description: fmt.Sprintf("%s: %s", what, errs[0].String()),
		Details:     map[string]any{"errors": list},
	}
}

// codeFor maps a gojsonschema error type to an OCPP error code.
func codeFor(errType string) ocpp.ErrorCode {
	switch errType {
	case "required":
		return ocpp.OccurrenceConstraintViolation
	case "invalid_type":
		return ocpp.TypeConstraintViolation
	case "enum", "const", "format", "pattern",
		"string_gte", "string_lte",
		"number_gte", "number_gt", "number_lte", "number_lt", "multiple_of",
		"array_min_items", "array_max_items", "unique":
		return ocpp.PropertyConstraintViolation
	}
	return ocpp.FormationViolation
}

func rank(errType string) int {
	switch codeFor(errType) {
	case ocpp.OccurrenceConstraintViolation:
		return 0
	case ocpp.TypeConstraintViolation:
		return 1
	case ocpp.PropertyConstraintViolation:
		return 2
	}
	return 3
}
