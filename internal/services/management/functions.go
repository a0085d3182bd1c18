package management

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/function"
)

// RegisterFunctionRequest is the payload of spec §6's RegisterFunction.
type RegisterFunctionRequest struct {
	Public       bool
	ExecutorType function.ExecutorType
	Payload      []byte
	Inputs       []function.Slot
	Outputs      []function.Slot
	Arguments    []string
	UsageQuota   int64
}

// RegisterFunction creates a new immutable function bundle owned by the
// caller.
func (s *Service) RegisterFunction(ctx context.Context, cred credential.Credential, req RegisterFunctionRequest) (string, error) {
	if !s.authenticate(ctx, cred) {
		return "", errors.Forbidden("invalid credential")
	}
	if len(req.Payload) == 0 {
		return "", errors.InvalidInput("payload", "function payload must not be empty")
	}

	def := function.Definition{
		ID:           uuid.New().String(),
		Owner:        cred.UserID,
		Public:       req.Public,
		ExecutorType: req.ExecutorType,
		Payload:      req.Payload,
		Inputs:       req.Inputs,
		Outputs:      req.Outputs,
		Arguments:    req.Arguments,
		UsageQuota:   req.UsageQuota,
	}
	if err := s.putFunction(ctx, def); err != nil {
		return "", err
	}
	s.log.WithContext(ctx).WithField("function_id", def.ID).Info("function registered")
	return def.ID, nil
}

// GetFunction returns a function definition visible to the caller: public
// functions are visible to anyone, private functions only to their owner.
func (s *Service) GetFunction(ctx context.Context, cred credential.Credential, functionID string) (function.Definition, error) {
	if !s.authenticate(ctx, cred) {
		return function.Definition{}, errors.Forbidden("invalid credential")
	}
	def, ok, err := s.getFunction(ctx, functionID)
	if err != nil {
		return function.Definition{}, err
	}
	if !ok {
		return function.Definition{}, errors.NotFound("function", functionID)
	}
	if !def.Public && def.Owner != cred.UserID {
		return function.Definition{}, errors.Forbidden("function not visible to caller")
	}
	return def, nil
}

// DeleteFunction removes a function bundle. Only its owner may delete it.
func (s *Service) DeleteFunction(ctx context.Context, cred credential.Credential, functionID string) error {
	if !s.authenticate(ctx, cred) {
		return errors.Forbidden("invalid credential")
	}
	lock := s.functionLock(functionID)
	lock.Lock()
	defer lock.Unlock()

	def, ok, err := s.getFunction(ctx, functionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("function", functionID)
	}
	if def.Owner != cred.UserID {
		return errors.Forbidden("only the owner may delete a function")
	}
	if err := s.store.Delete(ctx, functionKey(functionID)); err != nil {
		return errors.Internal("delete function", err)
	}
	return nil
}

func (s *Service) getFunction(ctx context.Context, functionID string) (function.Definition, bool, error) {
	raw, ok, err := s.store.Get(ctx, functionKey(functionID))
	if err != nil {
		return function.Definition{}, false, errors.Internal("read function", err)
	}
	if !ok {
		return function.Definition{}, false, nil
	}
	var def function.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return function.Definition{}, false, errors.Internal("decode function", err)
	}
	return def, true, nil
}

func (s *Service) putFunction(ctx context.Context, def function.Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return errors.Internal("encode function", err)
	}
	if err := s.store.Put(ctx, functionKey(def.ID), raw); err != nil {
		return errors.Internal("write function", err)
	}
	return nil
}

// incrementUsage atomically bumps a function's usage count, failing with
// ResourceExhausted if the quota is already spent (SPEC_FULL §12).
func (s *Service) incrementUsage(ctx context.Context, functionID string) error {
	lock := s.functionLock(functionID)
	lock.Lock()
	defer lock.Unlock()

	def, ok, err := s.getFunction(ctx, functionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("function", functionID)
	}
	if def.QuotaExhausted() {
		return errors.ResourceExhausted(fmt.Sprintf("function %s usage quota exhausted", functionID))
	}
	def.UsageCount++
	return s.putFunction(ctx, def)
}
