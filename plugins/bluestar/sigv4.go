package bluestar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigService   = "iotdevicegateway"
	sigPath      = "/mqtt"
)

// SignConnectionURL produces a presigned wss:// URL for the IoT message
// gateway. Pure function of its inputs, so tests can re-derive the
// signature for a pinned timestamp.
func SignConnectionURL(endpoint, region, accessKey, secretKey, sessionToken string, now time.Time) (string, error) {
	if endpoint == "" || region == "" || accessKey == "" || secretKey == "" {
		return "", fmt.Errorf("sign connection url: missing credential fields")
	}

	utc := now.UTC()
	amzDate := utc.Format("20060102T150405Z")
	dateStamp := utc.Format("20060102")
	scope := strings.Join([]string{dateStamp, region, sigService, "aws4_request"}, "/")

	query := "X-Amz-Algorithm=" + sigAlgorithm
	query += "&X-Amz-Credential=" + url.QueryEscape(accessKey+"/"+scope)
	query += "&X-Amz-Date=" + amzDate
	query += "&X-Amz-SignedHeaders=host"
	if sessionToken != "" {
		query += "&X-Amz-Security-Token=" + url.QueryEscape(sessionToken)
	}

	payloadHash := sha256Hex(nil)
	canonicalRequest := strings.Join([]string{
		"GET",
		sigPath,
		query,
		"host:" + endpoint + "\n",
		"host",
		payloadHash,
	}, "\n")

	stringToSign := strings.Join([]string{
		sigAlgorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(secretKey, dateStamp, region)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	return "wss://" + endpoint + sigPath + "?" + query + "&X-Amz-Signature=" + signature, nil
}

func deriveSigningKey(secretKey, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, sigService)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
