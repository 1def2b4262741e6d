// Package ocr defines the optical-extraction contract and its HTTP client.
//
// The extraction stage calls Extractor.Extract once per page inside a retry
// policy with a 60s attempt timeout. The HTTP client posts the page as base64
// to <base_url>/ocr; the tesseract subpackage provides a local engine with
// the same contract for offline use.
package ocr
