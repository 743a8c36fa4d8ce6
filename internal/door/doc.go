// Package door is the access-control core for the single front door.
//
// It owns the credential store (the door's PIN digest and the RFID cards bound
// to users), the append-only access log, the authentication engine, the
// enrollment state machine and the failed-attempt counter.
//
// # Ownership
//
// Service is the only writer of door state. A single mutex serialises the
// enrollment state, the counter and every door or card mutation, so HTTP
// admin actions and device messages can arrive on any goroutine:
//
//	svc := door.NewService(door.NewRepository(db.DB), mqttClient, door.ServiceConfig{
//	    DefaultPIN:     cfg.Door.DefaultPIN,
//	    AlarmThreshold: cfg.Door.AlarmThreshold,
//	})
//	if err := svc.Init(ctx); err != nil { ... }
//
//	attempt, err := svc.VerifyPIN(ctx, "1234")
//	if attempt.Alarm { ... }
//
// # Results versus errors
//
// Wrong PINs and unknown or revoked cards are not errors: they come back as
// an AuthResult with Granted false and are logged and counted. Errors are
// reserved for malformed input (ErrInvalidPIN, ErrMissingField), conflicts
// (*ConflictError, matched with errors.Is(err, ErrConflict)) and storage
// failures.
//
// Configuration pushes to the controller (PIN digest, card whitelist,
// enrollment mode) are published after the lock is released and are
// best-effort: a publish failure is logged and the stored state stands.
package door
