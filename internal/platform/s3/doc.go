// Package s3 uploads sealed run artifacts to S3-compatible object
// storage.
//
// It handles bucket creation and object upload for the run archive:
// the JSON run record and the per-run transition log. The endpoint is
// configured in labrig.yaml; credentials come from the environment.
package s3
