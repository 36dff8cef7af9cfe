package modem

import (
	"context"

	"go.uber.org/zap"

	"wildkamera.app/smsgw/at"
)

// Keys of the map returned by Info.
const (
	InfoManufacturer        = "manufacturer"
	InfoModel               = "model"
	InfoSerial              = "serial"
	InfoSignalStrength      = "signal_strength"
	InfoNetworkRegistration = "network_registration"
	InfoSimStatus           = "sim_status"
)

var infoQueries = []struct {
	key     string
	command string
}{
	{InfoManufacturer, at.CmdManufacturer},
	{InfoModel, at.CmdModel},
	{InfoSerial, at.CmdSerialNumber},
	{InfoSignalStrength, at.CmdSignalQuality},
	{InfoNetworkRegistration, at.CmdRegistration},
	{InfoSimStatus, at.CmdSimStatus},
}

// Info queries manufacturer, model, serial number, signal quality, network
// registration and SIM state. A query that fails or gets no OK is left out
// of the result; Info itself never fails. Nothing is cached.
func (m *Modem) Info(ctx context.Context) map[string]string {
	info := make(map[string]string, len(infoQueries))

	for _, q := range infoQueries {
		ex, err := m.exchange(ctx, q.command, at.OK, 0)
		if err != nil {
			m.logger.Warn("Modem info query failed", zap.String("field", q.key), zap.Error(err))
			continue
		}
		if !ex.Found {
			continue
		}
		info[q.key] = at.Value(ex.Response)
	}

	return info
}
