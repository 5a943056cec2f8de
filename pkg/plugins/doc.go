// Package plugins models CAD/CAM host plugin manifests and verifies plugin
// projects and packages.
//
// # Manifests
//
// plugin.json is decoded into Manifest and checked by ValidateManifest,
// which accepts raw JSON, a decoded map or a *Manifest and reports every
// violation as "<field path>: <message>":
//
//	result := plugins.ValidateManifest(data)
//	if !result.Valid {
//		for _, msg := range result.Errors {
//			fmt.Println(msg)
//		}
//	}
//
// # Verification
//
// Verifier checks a project directory before packaging, or a .cadplugin
// archive before installation. Archives move through the stages OPEN to
// DONE; the result records the last stage reached and keeps the typed error
// behind each failure:
//
//	result, err := plugins.NewVerifier(logger).Validate(ctx, "toolpath.cadplugin")
//	var mismatch *plugins.ChecksumMismatchError
//	if errors.As(result.Err(), &mismatch) {
//		// content changed after packaging
//	}
//
// # Ledger
//
// Ledger stores verification results in sqlite3 or postgres so repeated runs
// over the same archive can be compared.
package plugins
