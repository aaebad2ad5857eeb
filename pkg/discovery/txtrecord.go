package discovery

import (
	"strconv"
	"strings"
)

// TXT record keys.
const (
	TXTKeyVersion     = "v"
	TXTKeyDataSources = "ds"
	TXTKeyWebSocket   = "ws"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT builds the TXT records for info.
func EncodeTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyVersion: strconv.Itoa(ProtocolVersion)}
	if len(info.DataSources) > 0 {
		txt[TXTKeyDataSources] = strings.Join(info.DataSources, ",")
	}
	if info.WebSocketPath != "" {
		txt[TXTKeyWebSocket] = info.WebSocketPath
	}
	return txt
}

// decodeTXT fills the TXT-derived fields of svc. Unknown keys are ignored
// and a missing or malformed version is reported as 0.
func decodeTXT(txt TXTRecordMap, svc *Service) {
	svc.Version, _ = strconv.Atoi(txt[TXTKeyVersion])
	if ds := txt[TXTKeyDataSources]; ds != "" {
		for _, name := range strings.Split(ds, ",") {
			if name = strings.TrimSpace(name); name != "" {
				svc.DataSources = append(svc.DataSources, name)
			}
		}
	}
	svc.WebSocketPath = txt[TXTKeyWebSocket]
}

// TXTRecordsToStrings converts a TXT record map to key=value strings in a
// stable order.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	out := make([]string, 0, len(txt))
	for _, k := range []string{TXTKeyVersion, TXTKeyDataSources, TXTKeyWebSocket} {
		if v, ok := txt[k]; ok {
			out = append(out, k+"="+v)
		}
	}
	for k, v := range txt {
		switch k {
		case TXTKeyVersion, TXTKeyDataSources, TXTKeyWebSocket:
		default:
			out = append(out, k+"="+v)
		}
	}
	return out
}

// StringsToTXTRecords parses key=value strings. A string without "=" is a
// key with an empty value.
func StringsToTXTRecords(records []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
