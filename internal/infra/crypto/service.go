package crypto

// Service adapts the package functions to the usecase ContentHasher
// interface.
type Service struct{}

func (s *Service) ComputeContentHash(content any) (string, error) {
	return ComputeContentHash(content)
}

func (s *Service) VerifyContentHash(content any, expected string) bool {
	return VerifyContentHash(content, expected)
}

func (s *Service) ContentPreview(content any, maxLen int) string {
	return ContentPreview(content, maxLen)
}
