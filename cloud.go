package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const metadataBaseURL = "http://169.254.169.254/latest"

// InstanceIdentity is the subset of the EC2 instance identity document the
// app cares about.
type InstanceIdentity struct {
	Region           string `json:"region"`
	AvailabilityZone string `json:"availabilityZone"`
	InstanceID       string `json:"instanceId"`
	InstanceType     string `json:"instanceType"`
	AccountID        string `json:"accountId"`
	ImageID          string `json:"imageId"`
	PrivateIP        string `json:"privateIp"`
}

// CloudInfo is resolved once at bootstrap and read-only afterwards.
type CloudInfo struct {
	InCloud  bool
	Type     string // "ec2" or "local"
	Hostname string
	Metadata InstanceIdentity
}

// HostService implements host discovery against the EC2 metadata endpoint.
type HostService struct {
	baseURL string
	client  *http.Client
	log     *logrus.Logger
}

func newHostService(log *logrus.Logger) *HostService {
	return &HostService{
		baseURL: metadataBaseURL,
		// The metadata address is link-local, so answers are either
		// instant or never. Time out quickly.
		client: &http.Client{Timeout: time.Second},
		log:    log,
	}
}

// getMetadata fetches a single metadata path, retrying once on transport
// errors. A non-200 answer is reported as an error: callers treat any error
// as "field not available".
func (h *HostService) getMetadata(path string) (string, error) {
	resp, err := h.client.Get(h.baseURL + path)
	if err != nil {
		resp, err = h.client.Get(h.baseURL + path)
		if err != nil {
			return "", err
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("metadata %s: unexpected status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Detect probes the metadata endpoint and resolves the host identity. It is
// called exactly once, before the server starts accepting traffic, and the
// returned CloudInfo is never mutated afterwards.
func (h *HostService) Detect() *CloudInfo {
	info := &CloudInfo{Type: "local"}

	if _, err := h.getMetadata("/meta-data/"); err != nil {
		h.log.Info("Not running in the Cloud...")
		info.Hostname = h.resolveHostname(info)
		return info
	}

	info.InCloud = true
	info.Type = "ec2"
	h.log.Info("Running in the Cloud...")

	doc, err := h.identityDocument()
	if err != nil {
		h.log.Warnf("Can't fetch the instance identity document: %v", err)
	} else {
		info.Metadata = doc
	}

	info.Hostname = h.resolveHostname(info)
	return info
}

// resolveHostname prefers the public metadata hostname, then the private
// one, then the OS hostname, then a literal "unknown".
func (h *HostService) resolveHostname(info *CloudInfo) string {
	if info.InCloud {
		if v, err := h.getMetadata("/meta-data/public-hostname"); err == nil {
			if v = strings.TrimSpace(v); v != "" {
				h.log.Infof("We are running at the public zone at %s", v)
				return v
			}
		}
		if v, err := h.getMetadata("/meta-data/local-hostname"); err == nil {
			if v = strings.TrimSpace(v); v != "" {
				h.log.Infof("We are running at the private zone at %s", v)
				return v
			}
		}
	}
	if name, err := os.Hostname(); err == nil {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	h.log.Warn("Can't determine the hostname. Setting as undetermined!")
	return "unknown"
}

func (h *HostService) identityDocument() (InstanceIdentity, error) {
	var doc InstanceIdentity
	body, err := h.getMetadata("/dynamic/instance-identity/document")
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return doc, fmt.Errorf("parsing identity document: %w", err)
	}
	return doc, nil
}
