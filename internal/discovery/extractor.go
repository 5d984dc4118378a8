package discovery

import (
	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/registry"
)

// Fields are the identity fields pulled out of scan data.
type Fields struct {
	Name   string
	Serial string
	Model  string
}

// Extract applies node's extractors to data. For each field the first
// pattern that matches its source output supplies the first capture group.
func Extract(data device.ScanData, node *registry.TypeNode) Fields {
	return Fields{
		Name:   extract(data, node.Extractors.Name),
		Serial: extract(data, node.Extractors.Serial),
		Model:  extract(data, node.Extractors.Model),
	}
}

func extract(data device.ScanData, extractors []registry.Extractor) string {
	for _, e := range extractors {
		out, ok := data.Get(e.Source)
		if !ok || out == "" {
			continue
		}
		if m := e.Pattern.FindStringSubmatch(out); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// Apply copies the extracted fields onto dev.
func (f Fields) Apply(dev *device.Device) {
	dev.Name = f.Name
	dev.Serial = f.Serial
	dev.Model = f.Model
}
