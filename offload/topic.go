package offload

import (
	"net/url"
	"strings"
)

// TopicName converts a managed ledger name, as laid out in storage, into the
// topic name used to label statistics.
//
//	tenant/namespace/domain/local          -> domain://tenant/namespace/local
//	tenant/cluster/namespace/domain/local  -> domain://tenant/cluster/namespace/local
//
// Names of any other shape are returned unchanged.
func TopicName(managedLedgerName string) string {
	parts := strings.SplitN(managedLedgerName, "/", 5)
	var domain, namespace, local string
	switch len(parts) {
	case 4:
		domain = parts[2]
		namespace = parts[0] + "/" + parts[1]
		local = parts[3]
	case 5:
		domain = parts[3]
		namespace = parts[0] + "/" + parts[1] + "/" + parts[2]
		local = parts[4]
	default:
		return managedLedgerName
	}
	if domain == "" || local == "" {
		return managedLedgerName
	}
	if decoded, err := url.PathUnescape(local); err == nil {
		local = decoded
	}
	return domain + "://" + namespace + "/" + local
}
