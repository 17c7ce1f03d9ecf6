package netif

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	netClassPath = "class/net"

	// arphrdLoopback is the ARPHRD_LOOPBACK link type reported in sysfs.
	arphrdLoopback = 772
	// iffLoopback is the IFF_LOOPBACK bit of the interface flags.
	iffLoopback = 0x8
)

// Info describes a single network interface discovered via sysfs.
type Info struct {
	Name     string `json:"name"`
	MAC      string `json:"mac,omitempty"`
	Loopback bool   `json:"loopback"`
	Driver   string `json:"driver,omitempty"`
	PCI      string `json:"pci,omitempty"`
	PCIID    string `json:"pci_id,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Discover enumerates network interfaces exposed via sysfs under the provided root.
func Discover(root string, logger *slog.Logger) ([]Info, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), netClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("net class path missing", "path", filepath.Join(root, netClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read net class dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		ifaceRoot, err := sysRoot.OpenRoot(filepath.Join(netClassPath, name))
		if err != nil {
			logger.Warn("failed to open interface root", "iface", name, "err", err)
			continue
		}

		info := loadInterfaceInfo(name, ifaceRoot)
		if err := ifaceRoot.Close(); err != nil {
			logger.Debug("failed to close interface root", "iface", name, "err", err)
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos, nil
}

// LoopbackNames returns the set of loopback interface names among infos.
func LoopbackNames(infos []Info) map[string]struct{} {
	out := make(map[string]struct{})
	for _, info := range infos {
		if info.Loopback {
			out[info.Name] = struct{}{}
		}
	}
	return out
}

func loadInterfaceInfo(name string, ifaceRoot *os.Root) Info {
	info := Info{Name: name}

	if mac, err := readTrim(ifaceRoot, "address"); err == nil {
		info.MAC = mac
	}

	info.Loopback = isLoopback(name, ifaceRoot)

	deviceRoot, err := ifaceRoot.OpenRoot("device")
	if err != nil {
		// Virtual interfaces have no backing device.
		return info
	}
	defer deviceRoot.Close()

	var subsys string
	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		info.PCI = parseKeyValue(text, "PCI_SLOT_NAME")
		info.PCIID = parseKeyValue(text, "PCI_ID")
		info.Driver = parseKeyValue(text, "DRIVER")
		subsys = parseKeyValue(text, "PCI_SUBSYS_ID")
	}

	if info.PCIID == "" {
		info.PCIID = readHexPair(deviceRoot, "vendor", "device")
	}
	if subsys == "" {
		subsys = readHexPair(deviceRoot, "subsystem_vendor", "subsystem_device")
	}

	if ident, ok := parsePCIIdent(info.PCIID, subsys); ok {
		info.PCIID = ident.vendor + ":" + ident.device
		info.Model = nicModel(ident)
	}

	return info
}

func isLoopback(name string, ifaceRoot *os.Root) bool {
	if value, err := readTrim(ifaceRoot, "type"); err == nil {
		if linkType, err := strconv.Atoi(value); err == nil && linkType == arphrdLoopback {
			return true
		}
	}
	if value, err := readTrim(ifaceRoot, "flags"); err == nil {
		if flags, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 64); err == nil && flags&iffLoopback != 0 {
			return true
		}
	}
	return name == "lo"
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readHexPair joins two sysfs id files (e.g. "0x8086", "0x100e") into
// "8086:100e", or returns "" when either is missing.
func readHexPair(root *os.Root, first, second string) string {
	left, err := readTrim(root, first)
	if err != nil {
		return ""
	}
	right, err := readTrim(root, second)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(left, "0x") + ":" + strings.TrimPrefix(right, "0x")
}
