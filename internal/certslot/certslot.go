// Package certslot implements the certificate-slot background scan
// gated by an atomic tri-state so only one caller ever runs it.
package certslot

import (
	"bytes"
	"strings"
	"sync/atomic"

	"hostcryptoki/internal/hostapi"
	"hostcryptoki/internal/model"
	"hostcryptoki/internal/objectbuilder"
)

// Scanner owns the certificate slot's one-shot scan and the object list it
// publishes. The zero value is ready to use.
type Scanner struct {
	state  int32 // model.CertSlotState, CAS-gated
	objects []*model.Object
}

// TryStart attempts the uninitialized -> initializing transition by
// compare-and-set; only the winner should launch the scan.
func (s *Scanner) TryStart() bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(model.CertSlotUninitialized), int32(model.CertSlotInitializing))
}

// State reads the current tri-state with acquire semantics (on the
// architectures Go compiles to, a plain atomic load already has
// acquire/release ordering relative to atomic stores).
func (s *Scanner) State() model.CertSlotState {
	return model.CertSlotState(atomic.LoadInt32(&s.state))
}

// Objects returns the published object list. Must only be trusted once
// State() reports CertSlotInitialized.
func (s *Scanner) Objects() []*model.Object {
	return s.objects
}

// Run performs the scan: it filters store's trusted certificates by
// substring match against commonNameSubstrings, expands each match's CA
// chain transitively (skipping certificates already resident on a hardware
// token, identified by hardwareSHA1 hashes), builds the certificate/trust
// object pairs, and publishes them. Run must only be called by the TryStart
// winner; it is not itself safe for concurrent invocation.
func Run(store hostapi.IdentityStore, parser hostapi.CertParser, commonNameSubstrings []string, hardwareSHA1 [][]byte) ([]*model.Object, error) {
	certs, err := store.TrustedCertificates()
	if err != nil {
		return nil, err
	}

	type parsed struct {
		der  []byte
		info hostapi.CertInfo
	}
	working := make([]parsed, 0, len(certs))
	for _, der := range certs {
		info, err := parser.Parse(der)
		if err != nil {
			continue
		}
		if isHardwareResident(info.SHA1, hardwareSHA1) {
			continue
		}
		working = append(working, parsed{der: der, info: info})
	}

	var exported []parsed
	matched := func(info hostapi.CertInfo) bool {
		for _, sub := range commonNameSubstrings {
			if strings.Contains(info.CommonName, sub) {
				return true
			}
		}
		return false
	}

	var frontier []parsed
	for i := 0; i < len(working); {
		if matched(working[i].info) {
			exported = append(exported, working[i])
			frontier = append(frontier, working[i])
			working = append(working[:i], working[i+1:]...)
			continue
		}
		i++
	}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		for i := 0; i < len(working); {
			if bytes.Equal(working[i].info.Issuer, cur.info.Subject) {
				child := working[i]
				exported = append(exported, child)
				frontier = append(frontier, child)
				working = append(working[:i], working[i+1:]...)
				continue
			}
			i++
		}
	}

	records := make([]model.CertRecord, 0, len(exported))
	for _, p := range exported {
		records = append(records, model.CertRecord{Certificate: p.der, PublicKeyHash: p.info.SHA1})
	}

	return objectbuilder.BuildForCertificates(records, parser), nil
}

// Publish stores objects and publishes the initialized state via a plain
// atomic store, so the state flip is only visible after all data is
// committed").
func (s *Scanner) Publish(objects []*model.Object) {
	s.objects = objects
	atomic.StoreInt32(&s.state, int32(model.CertSlotInitialized))
}

func isHardwareResident(sha1 []byte, hardware [][]byte) bool {
	for _, h := range hardware {
		if bytes.Equal(sha1, h) {
			return true
		}
	}
	return false
}
