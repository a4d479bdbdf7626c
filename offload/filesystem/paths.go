package filesystem

import (
	"strconv"

	"github.com/google/uuid"
)

func storagePath(basePath, managedLedgerName string) string {
	if basePath == "" {
		return managedLedgerName + "/"
	}
	return basePath + "/" + managedLedgerName + "/"
}

func dataFilePath(storagePath string, ledgerID int64, id uuid.UUID) string {
	return storagePath + strconv.FormatInt(ledgerID, 10) + "-" + id.String()
}
