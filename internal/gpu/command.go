package gpu

// OutputSeparator splits the process section from the GPU section inside the
// remote pipeline. It never reaches the parser.
const OutputSeparator = "---"

// metricsCommand queries compute apps first, then GPUs, and joins them on
// GPU UUID with awk so each output line is
//
//	index,utilization,memory_used,memory_total,temperature,power,procs
//
// where procs is "pid:name:memory_mb" entries joined by ";". Commas and
// semicolons in process names are replaced with spaces; a non-numeric
// per-process memory (MIG, some drivers) becomes 0. A failing nvidia-smi
// makes the whole command exit with its status.
const metricsCommand = `apps=$(nvidia-smi --query-compute-apps=gpu_uuid,pid,process_name,used_memory --format=csv,noheader,nounits) || exit $?; ` +
	`gpus=$(nvidia-smi --query-gpu=index,uuid,utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw --format=csv,noheader,nounits) || exit $?; ` +
	`{ printf '%s\n' "$apps"; echo '` + OutputSeparator + `'; printf '%s\n' "$gpus"; } | awk -F', *' '` +
	`$0 == "` + OutputSeparator + `" { gpus = 1; next } ` +
	`!gpus { if (NF < 4) next; name = $3; for (i = 4; i < NF; i++) name = name " " $i; gsub(/[,;]/, " ", name); ` +
	`mem = $NF; if (mem !~ /^[0-9]+$/) mem = 0; entry = $2 ":" name ":" mem; ` +
	`procs[$1] = ($1 in procs) ? procs[$1] ";" entry : entry; next } ` +
	`NF >= 7 { print $1 "," $3 "," $4 "," $5 "," $6 "," $7 "," (($2 in procs) ? procs[$2] : "") }'`

// MetricsCommand returns the fixed command run on every host each cycle.
// It needs a POSIX login shell, awk and nvidia-smi on the remote side.
func MetricsCommand() string {
	return metricsCommand
}
