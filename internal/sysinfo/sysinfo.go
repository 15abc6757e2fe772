// Package sysinfo describes the sending host and the interface probes leave from.
package sysinfo

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/gfonseca/visage/internal/discovery"
)

// HostInfo holds the collected host metadata.
type HostInfo struct {
	Hostname  string
	OSName    string
	Kernel    string
	Arch      string
	CPUModel  string
	CPUCores  int
	Interface string
	IPAddress string
	Broadcast string
}

// Collect gathers local host information. When networkRange is set, the
// interface with an IPv4 address inside it is reported.
func Collect(networkRange string) (*HostInfo, error) {
	var subnet *net.IPNet
	if networkRange != "" {
		_, n, err := net.ParseCIDR(networkRange)
		if err != nil {
			return nil, fmt.Errorf("parsing network range: %w", err)
		}
		subnet = n
	}

	hostname, _ := os.Hostname()
	osName, kernel := getOSInfo()

	info := &HostInfo{
		Hostname: hostname,
		OSName:   osName,
		Kernel:   kernel,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	cpuInfo, err := cpu.Info()
	if err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	iface, ipNet, err := findInterface(subnet)
	if err != nil {
		return nil, err
	}
	if iface != nil {
		info.Interface = iface.Name
		info.IPAddress = ipNet.IP.String()
		if b := discovery.BroadcastIP(ipNet); b != nil {
			info.Broadcast = b.String()
		}
	}

	return info, nil
}

// findInterface returns the first up, non-loopback interface with an IPv4
// address, restricted to subnet when it is non-nil.
func findInterface(subnet *net.IPNet) (*net.Interface, *net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("listing interfaces: %w", err)
	}

	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			if subnet != nil && !subnet.Contains(ipNet.IP) {
				continue
			}
			return iface, ipNet, nil
		}
	}

	if subnet != nil {
		return nil, nil, fmt.Errorf("no interface with an address in %s", subnet)
	}
	return nil, nil, nil
}

// getOSInfo retrieves OS name and kernel version.
func getOSInfo() (string, string) {
	var osName, kernel string

	hostInfo, err := host.Info()
	if err == nil {
		osName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			osName += " " + hostInfo.PlatformVersion
		}
		kernel = hostInfo.KernelVersion
	} else {
		osName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName(); prettyName != "" {
			osName = prettyName
		}
	}

	return osName, kernel
}

// readOSReleasePrettyName parses /etc/os-release for the PRETTY_NAME field.
func readOSReleasePrettyName() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			val := strings.TrimPrefix(line, "PRETTY_NAME=")
			return strings.Trim(val, "\"")
		}
	}
	return ""
}
