package iometer

//go:generate mockgen -destination=mock/io.go -package=mock_iometer io ReadCloser
