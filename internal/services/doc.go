// Package services defines the shared error taxonomy and request context
// helpers consumed by the validator, fetcher, engine, and daemon packages.
//
// Key responsibilities:
//   - A single typed error (*Error) whose Kind names the violated rule, so the
//     daemon can translate failures into wire responses without matching on
//     message text.
//   - Classification helpers (KindOf, IsSecurity) that separate SSRF-class
//     rejections from ordinary operational failures.
//   - Context helpers that stamp request identifiers and action names for
//     logging.
//
// Use these helpers when adding new failure paths so the wire protocol and the
// security log stay uniform.
package services
