package commitlog

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path"

	"github.com/pkg/errors"
	"github.com/vx-labs/tiered/ledger"
)

type metadataFile struct {
	LedgerID       int64             `json:"ledger_id"`
	State          ledger.State      `json:"state"`
	LastEntryID    int64             `json:"last_entry_id"`
	Length         int64             `json:"length"`
	Ensemble       []string          `json:"ensemble"`
	DigestType     ledger.DigestType `json:"digest_type"`
	Password       []byte            `json:"password,omitempty"`
	CreationTime   int64             `json:"ctime"`
	CustomMetadata map[string][]byte `json:"custom_metadata,omitempty"`
}

func metadataName(datadir string, id int64) string {
	return path.Join(datadir, fmt.Sprintf("%d.meta", id))
}

func (m metadataFile) toLedgerMetadata() ledger.Metadata {
	return ledger.Metadata{
		QuorumSize:    int32(len(m.Ensemble)),
		EnsembleSize:  int32(len(m.Ensemble)),
		AckQuorumSize: int32(len(m.Ensemble)),
		Length:        m.Length,
		LastEntryID:   m.LastEntryID,
		State:         m.State,
		Segments: []ledger.Segment{
			{FirstEntryID: 0, Ensemble: m.Ensemble},
		},
		DigestType:     m.DigestType,
		Password:       m.Password,
		CreationTime:   m.CreationTime,
		CustomMetadata: m.CustomMetadata,
	}
}

func readMetadata(datadir string, id int64) (metadataFile, error) {
	m := metadataFile{}
	buf, err := ioutil.ReadFile(metadataName(datadir, id))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(buf, &m)
	if err != nil {
		return m, errors.Wrap(err, "failed to decode ledger metadata")
	}
	return m, nil
}

// writeMetadata replaces the metadata file using a temporary file and a rename.
func writeMetadata(datadir string, m metadataFile) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	filename := metadataName(datadir, m.LedgerID)
	tmp := filename + ".tmp"
	fd, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0650)
	if err != nil {
		return err
	}
	_, err = fd.Write(buf)
	if err == nil {
		err = fd.Sync()
	}
	if closeErr := fd.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
