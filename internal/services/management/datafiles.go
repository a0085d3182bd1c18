package management

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/datafile"
)

// RegisterInputFile registers an already-encrypted file the caller
// produced as a new Input File record, owned by the caller (spec §6).
func (s *Service) RegisterInputFile(ctx context.Context, cred credential.Credential, url string, tag []byte, crypto datafile.CryptoSpec) (string, error) {
	if !s.authenticate(ctx, cred) {
		return "", errors.Forbidden("invalid credential")
	}
	if url == "" || len(tag) == 0 {
		return "", errors.InvalidInput("url/tag", "input file requires a url and a non-empty tag")
	}
	rec := datafile.Record{
		DataID: uuid.New().String(),
		Kind:   datafile.KindInput,
		Owners: []string{cred.UserID},
		URL:    url,
		Crypto: crypto,
		Tag:    tag,
	}
	if err := s.putData(ctx, rec); err != nil {
		return "", err
	}
	return rec.DataID, nil
}

// RegisterOutputFile reserves a fresh, unwritten Output File slot the
// caller owns (spec §6). Re-registration always yields a distinct data-id
// (spec §8 "re-registration safety").
func (s *Service) RegisterOutputFile(ctx context.Context, cred credential.Credential, url string, crypto datafile.CryptoSpec) (string, error) {
	if !s.authenticate(ctx, cred) {
		return "", errors.Forbidden("invalid credential")
	}
	if url == "" {
		return "", errors.InvalidInput("url", "output file requires a url")
	}
	rec := datafile.Record{
		DataID: uuid.New().String(),
		Kind:   datafile.KindOutput,
		Owners: []string{cred.UserID},
		URL:    url,
		Crypto: crypto,
	}
	if err := s.putData(ctx, rec); err != nil {
		return "", err
	}
	return rec.DataID, nil
}

// RegisterFusionOutput reserves an output slot co-owned by the declared
// owner set; it becomes an Input File when re-registered as input to a
// downstream task (spec §3 "Fusion Output").
func (s *Service) RegisterFusionOutput(ctx context.Context, cred credential.Credential, url string, crypto datafile.CryptoSpec, owners []string) (string, error) {
	if !s.authenticate(ctx, cred) {
		return "", errors.Forbidden("invalid credential")
	}
	if len(owners) < 2 {
		return "", errors.InvalidInput("owners", "a fusion output requires at least two owners")
	}
	found := false
	for _, o := range owners {
		if o == cred.UserID {
			found = true
			break
		}
	}
	if !found {
		return "", errors.Forbidden("caller must be among the fusion output's declared owners")
	}
	rec := datafile.Record{
		DataID: uuid.New().String(),
		Kind:   datafile.KindFusion,
		Owners: append([]string(nil), owners...),
		URL:    url,
		Crypto: crypto,
	}
	if err := s.putData(ctx, rec); err != nil {
		return "", err
	}
	return rec.DataID, nil
}

// RegisterInputFromOutput re-registers a written Fusion Output (or a
// caller-owned Output File) as a fresh Input File data-id, per spec §3's
// Fusion-Output-becomes-Input-File rule. Always yields a distinct data-id.
func (s *Service) RegisterInputFromOutput(ctx context.Context, cred credential.Credential, dataID string) (string, error) {
	if !s.authenticate(ctx, cred) {
		return "", errors.Forbidden("invalid credential")
	}
	rec, ok, err := s.getData(ctx, dataID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound("data", dataID)
	}
	if !rec.OwnedBy(cred.UserID) {
		return "", errors.Forbidden("caller does not own this data item")
	}
	if !rec.Written() {
		return "", errors.InvalidInput("data", "source output has not been written yet")
	}

	next := rec.AsInput()
	next.DataID = uuid.New().String()
	if err := s.putData(ctx, next); err != nil {
		return "", err
	}
	return next.DataID, nil
}

func (s *Service) getData(ctx context.Context, dataID string) (datafile.Record, bool, error) {
	raw, ok, err := s.store.Get(ctx, dataKey(dataID))
	if err != nil {
		return datafile.Record{}, false, errors.Internal("read data record", err)
	}
	if !ok {
		return datafile.Record{}, false, nil
	}
	var rec datafile.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return datafile.Record{}, false, errors.Internal("decode data record", err)
	}
	return rec, true, nil
}

func (s *Service) putData(ctx context.Context, rec datafile.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Internal("encode data record", err)
	}
	if err := s.store.Put(ctx, dataKey(rec.DataID), raw); err != nil {
		return errors.Internal("write data record", err)
	}
	return nil
}
