// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package signal

import (
	"os"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParseJSON parses a Signal from its JSON representation and validates every snapshot.
//
// The format is an object with "name", "num_nodes", optionally "num_features" and the list of "snapshots",
// each with "edges" (list of [source, target] pairs), optional "weights", "features" and "targets".
func ParseJSON(data []byte) (*Signal, error) {
	var raw Signal
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse signal JSON")
	}
	s := New(raw.Name, raw.NumNodes, raw.NumFeatures)
	for _, snapshot := range raw.Snapshots {
		if snapshot == nil {
			return nil, errors.Errorf("signal %q has a null snapshot #%d", s.Name, s.Len())
		}
		if err := s.Append(snapshot); err != nil {
			return nil, err
		}
	}
	if s.Len() == 0 {
		return nil, errors.Errorf("signal %q has no snapshots", s.Name)
	}
	return s, nil
}

// LoadJSON reads the file in filePath and parses it with ParseJSON.
func LoadJSON(filePath string) (*Signal, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read signal from %q", filePath)
	}
	s, err := ParseJSON(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", filePath)
	}
	klog.V(1).Infof("Loaded %s from %q", s, filePath)
	return s, nil
}

// SaveJSON writes the signal to filePath in the format read by LoadJSON.
func (s *Signal) SaveJSON(filePath string) error {
	data, err := sonic.Marshal(s)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize signal %q", s.Name)
	}
	if err = os.WriteFile(filePath, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write signal to %q", filePath)
	}
	klog.V(1).Infof("Saved %s to %q", s, filePath)
	return nil
}
