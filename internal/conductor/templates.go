package conductor

import (
	"fmt"
	"strings"
)

// substitute formats a remote_commands.<step> template against the eight
// named slots the original defines: {case_id},{gpu_id},{rtplan_path},
// {in_dir},{out_dir},{raw_file},{output_path},{dicom_file}. Grounded on
// the original's str.format call in _execute_workflow_step, reproduced
// with strings.NewReplacer since the substitution has no conditional
// logic, just fixed positional slots.
func substitute(template, caseID, gpuID, uploadDir, downloadDir string) string {
	rtplanPath := fmt.Sprintf("%s/%s/rtplan.dcm", uploadDir, caseID)
	inDir := fmt.Sprintf("%s/%s/input", uploadDir, caseID)
	outDir := fmt.Sprintf("%s/%s/output", downloadDir, caseID)
	rawFile := fmt.Sprintf("%s/%s/output.raw", downloadDir, caseID)
	outputPath := fmt.Sprintf("%s/%s/processed", downloadDir, caseID)
	dicomFile := fmt.Sprintf("%s/%s/output.dcm", downloadDir, caseID)

	replacer := strings.NewReplacer(
		"{case_id}", caseID,
		"{gpu_id}", gpuID,
		"{rtplan_path}", rtplanPath,
		"{in_dir}", inDir,
		"{out_dir}", outDir,
		"{raw_file}", rawFile,
		"{output_path}", outputPath,
		"{dicom_file}", dicomFile,
	)
	return replacer.Replace(template)
}
