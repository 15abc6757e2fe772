package sysinfo

import (
	"net"
	"testing"
)

func TestCollect(t *testing.T) {
	info, err := Collect("")
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if info == nil {
		t.Fatal("Collect returned nil")
	}

	// Hostname should always be available
	if info.Hostname == "" {
		t.Error("Hostname is empty")
	}

	t.Logf("Collected default: host=%s iface=%s ip=%s bcast=%s",
		info.Hostname, info.Interface, info.IPAddress, info.Broadcast)
}

func TestCollect_WithNetworkRange(t *testing.T) {
	info, err := Collect("")
	if err != nil || info.IPAddress == "" {
		t.Skip("skipping network range test: no interface found")
	}

	ip := net.ParseIP(info.IPAddress)
	if ip == nil {
		t.Fatalf("invalid IP collected: %s", info.IPAddress)
	}

	// Example: if IP is 192.168.1.5, use 192.168.0.0/16
	cidr := ip.Mask(net.CIDRMask(16, 32)).String() + "/16"

	t.Logf("Testing with CIDR: %s", cidr)
	info2, err := Collect(cidr)
	if err != nil {
		t.Fatalf("Collect with CIDR %s failed: %v", cidr, err)
	}

	if info2.IPAddress != info.IPAddress {
		t.Errorf("Mismatch with CIDR: got %s, want %s", info2.IPAddress, info.IPAddress)
	}
	if info2.Broadcast == "" {
		t.Error("Broadcast is empty")
	}
}

func TestCollect_NoMatchingInterface(t *testing.T) {
	// TEST-NET-2 is never assigned to a real interface.
	if _, err := Collect("198.51.100.0/24"); err == nil {
		t.Error("expected error for a range with no local address")
	}
}

func TestCollect_InvalidRange(t *testing.T) {
	if _, err := Collect("not-a-cidr"); err == nil {
		t.Error("expected error for invalid network range")
	}
}

func TestReadOSReleasePrettyName(t *testing.T) {
	name := readOSReleasePrettyName()
	t.Logf("PRETTY_NAME: %q", name)
}
